package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("already registered")
	ErrWalletInUse      = errors.New("wallet is bound to another account")
	ErrWalletAlreadySet = errors.New("account already has a wallet")
	ErrOperatorWallet   = errors.New("the operator wallet cannot be bound to an account")
	ErrNoWallet         = errors.New("account has no wallet")
	ErrNotGuardian      = errors.New("account is not the patient's guardian")
	ErrCodeExhausted    = errors.New("could not allocate a unique code")
)

// User maps to the app_user table.
type User struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	Fullname             string    `db:"fullname" json:"fullname"`
	Email                string    `db:"email" json:"email"`
	Role                 string    `db:"role" json:"role"`
	Phone                *string   `db:"phone" json:"phone,omitempty"`
	IdentificationNumber *string   `db:"identification_number" json:"identification_number,omitempty"`
	WalletAddress        *string   `db:"wallet_address" json:"wallet_address,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Wallet returns the bound wallet or "".
func (u *User) Wallet() string {
	if u.WalletAddress == nil {
		return ""
	}
	return *u.WalletAddress
}

// Doctor maps to the doctor table. Fullname and WalletAddress come from the
// owning app_user row.
type Doctor struct {
	ID             uuid.UUID `db:"id" json:"id"`
	DoctorCode     string    `db:"doctor_code" json:"doctor_code"`
	UserID         uuid.UUID `db:"user_id" json:"user_id"`
	Specialization string    `db:"specialization" json:"specialization"`
	LicenseNumber  string    `db:"license_number" json:"license_number"`
	Fullname       string    `db:"fullname" json:"fullname"`
	WalletAddress  *string   `db:"wallet_address" json:"wallet_address,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

func (d *Doctor) Wallet() string {
	if d.WalletAddress == nil {
		return ""
	}
	return *d.WalletAddress
}

// Patient maps to the patient table.
type Patient struct {
	ID                           uuid.UUID  `db:"id" json:"id"`
	PatientCode                  string     `db:"patient_code" json:"patient_code"`
	Fullname                     string     `db:"fullname" json:"fullname"`
	Email                        *string    `db:"email" json:"email,omitempty"`
	Birthday                     time.Time  `db:"birthday" json:"birthday"`
	Gender                       string     `db:"gender" json:"gender"`
	Phone                        *string    `db:"phone" json:"phone,omitempty"`
	Address                      *string    `db:"address" json:"address,omitempty"`
	IdentificationNumber         *string    `db:"identification_number" json:"identification_number,omitempty"`
	GuardianName                 *string    `db:"guardian_name" json:"guardian_name,omitempty"`
	GuardianPhone                *string    `db:"guardian_phone" json:"guardian_phone,omitempty"`
	GuardianIdentificationNumber *string    `db:"guardian_identification_number" json:"guardian_identification_number,omitempty"`
	GuardianWalletAddress        *string    `db:"guardian_wallet_address" json:"guardian_wallet_address,omitempty"`
	UsingGuardianWallet          bool       `db:"using_guardian_wallet" json:"using_guardian_wallet"`
	BloodType                    *string    `db:"blood_type" json:"blood_type,omitempty"`
	Allergies                    *string    `db:"allergies" json:"allergies,omitempty"`
	ChronicDiseases              *string    `db:"chronic_diseases" json:"chronic_diseases,omitempty"`
	LinkedUserID                 *uuid.UUID `db:"linked_user_id" json:"linked_user_id,omitempty"`
	CreatedBy                    *uuid.UUID `db:"created_by" json:"created_by,omitempty"`
	CreatedAt                    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                    time.Time  `db:"updated_at" json:"updated_at"`
}

// SigningWallet picks the wallet that signs access changes for the patient:
// the guardian's when the patient uses it, otherwise the linked account's.
func (p *Patient) SigningWallet(linked *User) string {
	if p.UsingGuardianWallet && p.GuardianWalletAddress != nil {
		return *p.GuardianWalletAddress
	}
	if linked != nil {
		return linked.Wallet()
	}
	return ""
}

// MatchesUser reports whether the user's identification number or phone
// matches the patient or the patient's guardian.
func (p *Patient) MatchesUser(u *User) bool {
	return eq(p.IdentificationNumber, u.IdentificationNumber) ||
		eq(p.GuardianIdentificationNumber, u.IdentificationNumber) ||
		eq(p.Phone, u.Phone) ||
		eq(p.GuardianPhone, u.Phone)
}

// IsGuardian reports whether u is recorded as the patient's guardian.
func (p *Patient) IsGuardian(u *User) bool {
	return eq(p.GuardianIdentificationNumber, u.IdentificationNumber) || eq(p.GuardianPhone, u.Phone)
}

func eq(a, b *string) bool {
	return a != nil && b != nil && *a != "" && *a == *b
}

// RegisterDoctorInput creates a doctor account and profile together.
type RegisterDoctorInput struct {
	Fullname             string  `json:"fullname"`
	Email                string  `json:"email"`
	Phone                *string `json:"phone,omitempty"`
	IdentificationNumber *string `json:"identification_number,omitempty"`
	Specialization       string  `json:"specialization"`
	LicenseNumber        string  `json:"license_number"`
}

// WalletResult reports a wallet connection and which ledger bindings were
// committed. Ledger failures do not undo the connection.
type WalletResult struct {
	User   *User    `json:"user"`
	Bound  []string `json:"bound"`
	Failed []string `json:"failed,omitempty"`
}

const (
	doctorCodePrefix  = "DOC-"
	patientCodePrefix = "P-"
	codeAttempts      = 5
)

// nextCode formats the code following last, e.g. DOC-00000041 -> DOC-00000042.
// An empty or unparsable last code starts the sequence at 1.
func nextCode(prefix, last string) string {
	var n int
	if len(last) > len(prefix) {
		fmt.Sscanf(last[len(prefix):], "%d", &n)
	}
	return fmt.Sprintf("%s%08d", prefix, n+1)
}
