package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 11000-11999: User & Auth module errors
// 12000-12999: Submission module errors
// 13000-13999: Judge (CEE) client errors
const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// Queue errors (10400-10499)
	QueueError ErrorCode = 10400

	// Storage errors (10500-10599)
	StorageError ErrorCode = 10500

	// ========== User & Auth Module Errors (11000-11999) ==========

	// Authentication (11000-11099)
	InvalidCredentials    ErrorCode = 11000
	UserNotFound          ErrorCode = 11001
	TokenExpired          ErrorCode = 11002
	TokenInvalid          ErrorCode = 11003
	TokenGenerationFailed ErrorCode = 11004

	// Registration (11100-11199)
	UsernameAlreadyExists ErrorCode = 11100
	EmailAlreadyExists    ErrorCode = 11101
	InvalidUsername       ErrorCode = 11102
	InvalidEmail          ErrorCode = 11103
	InvalidPassword       ErrorCode = 11104
	InvalidFullName       ErrorCode = 11105
	AvatarRequired        ErrorCode = 11106
	AvatarUploadFailed    ErrorCode = 11107

	// Account state (11200-11299)
	EmailNotVerified        ErrorCode = 11200
	EmailVerificationFailed ErrorCode = 11201
	UserUpdateFailed        ErrorCode = 11202

	// ========== Submission Module Errors (12000-12999) ==========

	SubmissionNotFound     ErrorCode = 12000
	SubmissionCreateFailed ErrorCode = 12001
	SourceCodeEmpty        ErrorCode = 12002
	SourceCodeTooLarge     ErrorCode = 12003
	LanguageNotSupported   ErrorCode = 12004
	SubmitTooFrequently    ErrorCode = 12005

	// ========== Judge (CEE) Client Errors (13000-13999) ==========

	JudgeUnavailable    ErrorCode = 13000
	JudgeTokenMissing   ErrorCode = 13001
	JudgeResponseBroken ErrorCode = 13002
)

var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized",
	Forbidden:           "Forbidden",
	TooManyRequests:     "Too many requests",
	ServiceUnavailable:  "Service unavailable",
	Timeout:             "Operation timeout",

	// Database
	DatabaseError:       "Database error",
	RecordNotFound:      "Record not found",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Transaction failed",

	// Cache
	CacheError: "Cache error",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Queue
	QueueError: "Message queue error",

	// Storage
	StorageError: "Object storage error",

	// User & Auth
	InvalidCredentials:    "Invalid username or password",
	UserNotFound:          "User not found",
	TokenExpired:          "Token has expired",
	TokenInvalid:          "Token is invalid",
	TokenGenerationFailed: "Failed to generate token",

	UsernameAlreadyExists: "Username already exists",
	EmailAlreadyExists:    "Email already exists",
	InvalidUsername:       "Username can only contain letters, numbers and underscores",
	InvalidEmail:          "Invalid email address",
	InvalidPassword:       "Password must be at least 8 characters",
	InvalidFullName:       "Full name can only contain letters and spaces",
	AvatarRequired:        "Avatar image is required",
	AvatarUploadFailed:    "Failed to upload avatar",

	EmailNotVerified:        "Email address is not verified",
	EmailVerificationFailed: "Email verification failed",
	UserUpdateFailed:        "Failed to update user",

	// Submission
	SubmissionNotFound:     "Submission not found",
	SubmissionCreateFailed: "Failed to create submission",
	SourceCodeEmpty:        "Source code is required",
	SourceCodeTooLarge:     "Source code is too large",
	LanguageNotSupported:   "Language is not supported",
	SubmitTooFrequently:    "Submit too frequently",

	// Judge client
	JudgeUnavailable:    "Judge service is unavailable",
	JudgeTokenMissing:   "Judge did not return a job token",
	JudgeResponseBroken: "Judge returned a malformed response",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == EmailVerificationFailed, c >= 11000 && c < 11100:
		return 401
	case c == Forbidden, c == EmailNotVerified:
		return 403
	case c == NotFound, c == RecordNotFound, c == SubmissionNotFound:
		return 404
	case c == RecordAlreadyExists, c == UsernameAlreadyExists, c == EmailAlreadyExists:
		return 409
	case c == TooManyRequests, c == SubmitTooFrequently:
		return 429
	case c == ServiceUnavailable:
		return 503
	case c == InvalidParams, c >= 10300 && c < 10400:
		return 400
	case c >= 11102 && c <= 11106:
		return 400
	case c >= 12002 && c <= 12004:
		return 400
	default:
		return 500
	}
}
