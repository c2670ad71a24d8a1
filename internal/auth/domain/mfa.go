package domain

type TOTPEnrollment struct {
	Secret  string // base32
	URL     string // otpauth:// for QR rendering
	Issuer  string
	Account string
}
