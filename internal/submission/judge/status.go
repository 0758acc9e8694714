package judge

// Status ordinals reported by the code execution engine.
const (
	StatusInQueue             = 1
	StatusProcessing          = 2
	StatusAccepted            = 3
	StatusWrongAnswer         = 4
	StatusTimeLimitExceeded   = 5
	StatusCompilationError    = 6
	StatusRuntimeErrorSIGSEGV = 7
	StatusRuntimeErrorSIGXFSZ = 8
	StatusRuntimeErrorSIGFPE  = 9
	StatusRuntimeErrorSIGABRT = 10
	StatusRuntimeErrorNZEC    = 11
	StatusRuntimeErrorOther   = 12
	StatusInternalError       = 13
	StatusExecFormatError     = 14
)

var statusDescriptions = map[int]string{
	StatusInQueue:             "In Queue",
	StatusProcessing:          "Processing",
	StatusAccepted:            "Accepted",
	StatusWrongAnswer:         "Wrong Answer",
	StatusTimeLimitExceeded:   "Time Limit Exceeded",
	StatusCompilationError:    "Compilation Error",
	StatusRuntimeErrorSIGSEGV: "Runtime Error (SIGSEGV)",
	StatusRuntimeErrorSIGXFSZ: "Runtime Error (SIGXFSZ)",
	StatusRuntimeErrorSIGFPE:  "Runtime Error (SIGFPE)",
	StatusRuntimeErrorSIGABRT: "Runtime Error (SIGABRT)",
	StatusRuntimeErrorNZEC:    "Runtime Error (NZEC)",
	StatusRuntimeErrorOther:   "Runtime Error (Other)",
	StatusInternalError:       "Internal Error",
	StatusExecFormatError:     "Exec Format Error",
}

// StatusDescription returns the canonical description for a status ordinal.
// Unknown ordinals map to "Internal Error" so a broken engine response never
// surfaces an empty verdict.
func StatusDescription(id int) string {
	if desc, ok := statusDescriptions[id]; ok {
		return desc
	}
	return statusDescriptions[StatusInternalError]
}

// IsTerminal reports whether a status ordinal represents a finished run.
// In Queue and Processing are the only non-terminal states.
func IsTerminal(id int) bool {
	return id > StatusProcessing
}

// Language ids accepted by the engine.
const (
	LanguageC          = 50
	LanguageCPP        = 54
	LanguageJava       = 62
	LanguageJavaScript = 63
	LanguagePython     = 71
)

var supportedLanguages = map[int]string{
	LanguageC:          "C (GCC 9.2.0)",
	LanguageCPP:        "C++ (GCC 9.2.0)",
	LanguageJava:       "Java (OpenJDK 13.0.1)",
	LanguageJavaScript: "JavaScript (Node.js 12.14.0)",
	LanguagePython:     "Python (3.8.1)",
}

// IsLanguageSupported reports whether the language id is on the allow-list.
func IsLanguageSupported(id int) bool {
	_, ok := supportedLanguages[id]
	return ok
}

// LanguageName returns the display name for a supported language id.
func LanguageName(id int) string {
	return supportedLanguages[id]
}
