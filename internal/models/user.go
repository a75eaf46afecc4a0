package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin        UserRole = "admin"
	RoleProfessional UserRole = "professional"
	RoleStudent      UserRole = "student"
	RolePatient      UserRole = "patient"
)

// UserStatus tracks where a user sits in the validation workflow.
// Admins carry no status.
type UserStatus string

const (
	StatusPending     UserStatus = "pending"
	StatusPreApproved UserStatus = "pre_approved"
	StatusApproved    UserStatus = "approved"
	StatusRejected    UserStatus = "rejected"
)

// User represents an application user stored in the users table.
type User struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	FirstName     string     `db:"first_name" json:"first_name"`
	SecondName    *string    `db:"second_name" json:"second_name,omitempty"`
	FirstSurname  string     `db:"first_surname" json:"first_surname"`
	SecondSurname *string    `db:"second_surname" json:"second_surname,omitempty"`
	BirthDay      time.Time  `db:"birth_day" json:"birth_day"`
	Phone         *string    `db:"phone" json:"phone,omitempty"`
	Role          UserRole   `db:"role" json:"role"`
	Status        UserStatus `db:"status" json:"status"`
	ApprovedBy    *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt    *time.Time `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// FullName joins the name parts the way the UI displays them.
func (u *User) FullName() string {
	name := u.FirstName
	if u.SecondName != nil && *u.SecondName != "" {
		name += " " + *u.SecondName
	}
	name += " " + u.FirstSurname
	if u.SecondSurname != nil && *u.SecondSurname != "" {
		name += " " + *u.SecondSurname
	}
	return name
}

// AcademicProfile stores the academic data students and professionals
// supply at registration.
type AcademicProfile struct {
	UserID         string `db:"user_id" json:"user_id"`
	Institution    string `db:"institution" json:"institution"`
	Career         string `db:"career" json:"career"`
	AcademicGrade  string `db:"academic_grade" json:"academic_grade"`
	RegisterNumber string `db:"register_number" json:"register_number"`
}

// UserFilter captures filtering criteria for listing users.
type UserFilter struct {
	Role     *UserRole
	Status   *UserStatus
	Search   string
	Page     int
	PageSize int
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
