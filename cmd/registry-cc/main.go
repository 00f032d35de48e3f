package main

import (
	"fmt"
	"os"

	"github.com/hyperledger/fabric-contract-api-go/contractapi"

	"github.com/ehr/recordchain/internal/chaincode/registry"
)

func main() {
	cc, err := contractapi.NewChaincode(&registry.RegistryContract{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "create registry chaincode: %v\n", err)
		os.Exit(1)
	}
	if err := cc.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start registry chaincode: %v\n", err)
		os.Exit(1)
	}
}
