package dto

// RegisterRequest creates a new account. Students and professionals must
// include the academic fields; patients only the personal ones.
type RegisterRequest struct {
	FirstName     string `json:"first_name" validate:"required"`
	SecondName    string `json:"second_name"`
	FirstSurname  string `json:"first_surname" validate:"required"`
	SecondSurname string `json:"second_surname"`
	BirthDay      string `json:"birth_day" validate:"required,datetime=2006-01-02"`
	Phone         string `json:"phone"`
	Email         string `json:"email" validate:"required,email"`
	Password      string `json:"password" validate:"required,min=8"`
	Role          string `json:"role" validate:"required,oneof=professional student patient"`

	Institution    string `json:"institution"`
	Career         string `json:"career"`
	AcademicGrade  string `json:"academic_grade"`
	RegisterNumber string `json:"register_number"`
}
