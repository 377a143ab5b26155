package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// dangerousExtensions are executable or script types rejected regardless of
// the configured allow-list.
var dangerousExtensions = map[string]struct{}{
	".exe": {}, ".dll": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".msi": {},
	".scr": {}, ".pif": {}, ".sh": {}, ".bash": {}, ".ps1": {}, ".vbs": {},
	".vbe": {}, ".js": {}, ".jse": {}, ".wsf": {}, ".wsh": {}, ".jar": {},
	".app": {}, ".deb": {}, ".rpm": {}, ".dmg": {}, ".apk": {}, ".php": {},
	".cgi": {}, ".pl": {}, ".py": {}, ".rb": {},
}

// reservedNames are Windows device names that must not appear as a filename
// stem even with an extension attached.
var reservedNames = map[string]struct{}{
	"con": {}, "prn": {}, "aux": {}, "nul": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {},
	"com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {},
	"lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

const (
	maxFilenameLength = 255
	invalidCharacters = `<>:"|?*`
)

// Upload describes one incoming file for validation.
type Upload struct {
	Filename   string
	SizeBytes  int64
	MimeType   string
	UsedBytes  int64
	QuotaBytes int64
}

// ValidationResult aggregates every violation found in one pass so callers
// can report them all at once instead of fixing uploads one error at a time.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// ValidatorConfig parameterises size, extension and quota checks.
type ValidatorConfig struct {
	MaxFileSize        int64
	LargeFileThreshold int64
	AllowedExtensions  []string
	BlockedExtensions  []string
}

// Validator performs security, size and quota checks on uploads. It has no
// side effects; callers decide what to do with the result.
type Validator struct {
	cfg        ValidatorConfig
	allowedSet map[string]struct{}
	blockedSet map[string]struct{}
}

// NewValidator builds a validator, normalising configured extensions to
// lower-case dotted form.
func NewValidator(cfg ValidatorConfig) *Validator {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 25 * 1024 * 1024
	}
	if cfg.LargeFileThreshold <= 0 {
		cfg.LargeFileThreshold = 10 * 1024 * 1024
	}
	return &Validator{
		cfg:        cfg,
		allowedSet: extensionSet(cfg.AllowedExtensions),
		blockedSet: extensionSet(cfg.BlockedExtensions),
	}
}

// Validate runs every check and collects all violations.
func (v *Validator) Validate(upload Upload) ValidationResult {
	result := ValidationResult{}

	if upload.SizeBytes > v.cfg.MaxFileSize {
		result.Errors = append(result.Errors,
			fmt.Sprintf("file size %d exceeds maximum of %d bytes", upload.SizeBytes, v.cfg.MaxFileSize))
	}

	ext := strings.ToLower(filepath.Ext(upload.Filename))

	if _, dangerous := dangerousExtensions[ext]; dangerous {
		result.Errors = append(result.Errors,
			fmt.Sprintf("file type %s is not permitted for security reasons", ext))
	} else if _, blocked := v.blockedSet[ext]; blocked {
		result.Errors = append(result.Errors,
			fmt.Sprintf("file type %s is blocked by configuration", ext))
	} else if len(v.allowedSet) > 0 {
		if _, allowed := v.allowedSet[ext]; !allowed {
			result.Errors = append(result.Errors,
				fmt.Sprintf("file type %s is not in the allowed list", ext))
		}
	}

	result.Errors = append(result.Errors, validateFilename(upload.Filename)...)

	if upload.QuotaBytes > 0 {
		projected := upload.UsedBytes + upload.SizeBytes
		if projected > upload.QuotaBytes {
			result.Errors = append(result.Errors,
				fmt.Sprintf("upload would exceed storage quota: %d of %d bytes used, %d bytes over",
					upload.UsedBytes, upload.QuotaBytes, projected-upload.QuotaBytes))
		}
	}

	if upload.SizeBytes > v.cfg.LargeFileThreshold && upload.SizeBytes <= v.cfg.MaxFileSize {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("large file: %d bytes may be slow to upload and serve", upload.SizeBytes))
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func validateFilename(name string) []string {
	var errs []string

	if name == "" {
		return append(errs, "filename is required")
	}
	if len(name) > maxFilenameLength {
		errs = append(errs, fmt.Sprintf("filename exceeds %d characters", maxFilenameLength))
	}
	if strings.Contains(name, "..") {
		errs = append(errs, "filename must not contain path traversal sequences")
	}
	if strings.ContainsAny(name, invalidCharacters) {
		errs = append(errs, `filename must not contain any of <>:"|?*`)
	}

	stem := strings.ToLower(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
	if _, reserved := reservedNames[stem]; reserved {
		errs = append(errs, fmt.Sprintf("filename %q is a reserved device name", stem))
	}

	return errs
}

func extensionSet(exts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		set[ext] = struct{}{}
	}
	return set
}
