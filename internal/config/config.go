// =============================================================================
// SEPA XML Converter - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing all configuration files.
// It handles both the main application configuration and the optional
// creditor profile files.
//
// CONFIGURATION FILES:
//   1. Main Config (config.yaml): Global settings and the default creditor
//   2. Creditor Profiles (profiles/*.yaml): Per-creditor overrides selected
//      by input file name
//
// ENVIRONMENT:
//   Every main config key can be overridden with a SEPA_ prefixed
//   environment variable (see ApplyEnv), e.g. SEPA_CREDITOR_IBAN.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// DEFAULT CREDITOR
// =============================================================================
// These values are placeholders for a test creditor. Replace them in
// config.yaml or with SEPA_CREDITOR_* variables before sending files to a bank.

const (
	DefaultCreditorName         = "Your Company Name"
	DefaultCreditorIBAN         = "DE02701500000000594937"
	DefaultCreditorBIC          = "SSKMDEMM"
	DefaultCreditorSchemeID     = "DE98ZZZ09999999999"
	DefaultCreditorSequenceType = "FRST"
)

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
// This is loaded from the main config.yaml file.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is scanned for .xlsx and .csv files by the convert command.
	// Default: "./input"
	InputDir string `yaml:"input_dir"`

	// OutputDir receives the generated XML files.
	// Default: "./output"
	OutputDir string `yaml:"output_dir"`

	// InputArchiveDir receives input files after a successful conversion.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir"`

	// ErrorDir receives error logs for rejected files.
	// Default: "./errors"
	ErrorDir string `yaml:"error_dir"`

	// ProfilesDir contains optional creditor profile files.
	// Default: "./profiles"
	ProfilesDir string `yaml:"profiles_dir"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is the log destination: "stdout", "stderr", "discard" or a path.
	// Default: "stderr"
	LogFile string `yaml:"log_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level"`

	// LogFormat is "console" or "json".
	// Default: "console"
	LogFormat string `yaml:"log_format"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputFormat defines the output file name.
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {msgid}     - The MsgId of the generated message
	//   {original}  - Input file name without extension
	//   {profile}   - Creditor profile name ("default" when none matched)
	// Default: "{original}_{timestamp}.xml"
	OutputFormat string `yaml:"output_format"`

	// ArchiveInput moves input files to InputArchiveDir after success.
	// Default: false
	ArchiveInput bool `yaml:"archive_input"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is the maximum number of files converted concurrently
	// and the number of row validation workers per file.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency"`

	// ContinueOnError keeps converting the remaining files after a failure.
	// Default: true
	ContinueOnError *bool `yaml:"continue_on_error"`

	// =========================================================================
	// CONVERSION SETTINGS
	// =========================================================================

	// DecimalSeparator is "auto", "." or ",".
	// "auto" detects the separator from the Amount column.
	// Default: "auto"
	DecimalSeparator string `yaml:"decimal_separator"`

	// Sheet is the worksheet to read. Empty selects the first sheet.
	Sheet string `yaml:"sheet"`

	// PreviewRows is the number of rows shown by preview.
	// Default: 5
	PreviewRows int `yaml:"preview_rows"`

	// HeaderAliases maps source column headers to the recognized field names.
	// Example:
	//   header_aliases:
	//     "Kontoinhaber": "Name"
	//     "Betrag": "Amount"
	HeaderAliases map[string]string `yaml:"header_aliases"`

	// CSVSettings is used for .csv inputs.
	CSVSettings CSVSettings `yaml:"csv_settings"`

	// TransformationRules are applied to text cells before validation.
	TransformationRules []TransformationRule `yaml:"transformation_rules"`

	// Creditor is the default creditor identity.
	Creditor CreditorConfig `yaml:"creditor"`

	// =========================================================================
	// SERVER SETTINGS
	// =========================================================================

	// Server configures the HTTP front-end.
	Server ServerConfig `yaml:"server"`
}

// CreditorConfig holds the creditor side of the payment information block.
type CreditorConfig struct {
	Name         string `yaml:"name"`
	IBAN         string `yaml:"iban"`
	BIC          string `yaml:"bic"`
	SchemeID     string `yaml:"scheme_id"`
	SequenceType string `yaml:"sequence_type"`
}

// ServerConfig configures the HTTP front-end.
type ServerConfig struct {
	// Address to listen on. Default: ":8080"
	Address string `yaml:"address"`

	// AllowedOrigins for CORS. Default: ["*"]
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxUploadMB limits the multipart upload size. Default: 10
	MaxUploadMB int64 `yaml:"max_upload_mb"`
}

// =============================================================================
// CREDITOR PROFILE STRUCTURE
// =============================================================================

// ProfileConfig overrides parts of the main configuration for input files
// matching one of its patterns.
type ProfileConfig struct {
	// ProfileName is used in logs and output file names.
	ProfileName string `yaml:"profile_name"`

	// FileMatchingPatterns is a list of glob patterns matched against the
	// input file name.
	// Examples:
	//   - "members_*.xlsx"
	//   - "*_fees.csv"
	FileMatchingPatterns []string `yaml:"file_matching_patterns"`

	// Creditor fields that are set replace the main config's values.
	Creditor CreditorConfig `yaml:"creditor"`

	// DecimalSeparator overrides the main setting when not empty.
	DecimalSeparator string `yaml:"decimal_separator,omitempty"`

	// Sheet overrides the main setting when not empty.
	Sheet string `yaml:"sheet,omitempty"`

	// HeaderAliases are merged over the main aliases.
	HeaderAliases map[string]string `yaml:"header_aliases,omitempty"`

	// CSVSettings replaces the main CSV settings when the delimiter is set.
	CSVSettings CSVSettings `yaml:"csv_settings,omitempty"`

	// TransformationRules are appended after the main rules.
	TransformationRules []TransformationRule `yaml:"transformation_rules,omitempty"`
}

// =============================================================================
// CSV SETTINGS STRUCTURE
// =============================================================================

// CSVSettings contains settings for parsing CSV files.
type CSVSettings struct {
	// Delimiter is the character used to separate fields in the CSV.
	// Common values: ",", ";", "|", "\t" (or "tab")
	// Default: ";"
	Delimiter string `yaml:"delimiter"`

	// HeaderRows is the number of header rows. Multiple header rows are
	// merged column by column with a space.
	// Default: 1
	HeaderRows int `yaml:"header_rows"`

	// DataStartRow is the 1-based row where the data begins.
	// Default: HeaderRows + 1
	DataStartRow int `yaml:"data_start_row"`

	// Encoding is the character encoding of the CSV file.
	// Supported: "UTF-8", "ISO-8859-1", "ISO-8859-15", "Windows-1252"
	// Default: "UTF-8"
	Encoding string `yaml:"encoding"`
}

// =============================================================================
// TRANSFORMATION RULE STRUCTURE
// =============================================================================

// TransformationRule defines a transformation to apply to a specific field.
type TransformationRule struct {
	// Field is the recognized field name (after header aliases).
	Field string `yaml:"field"`

	// Actions are applied in order.
	Actions []TransformationAction `yaml:"actions"`
}

// TransformationAction defines a single transformation action.
type TransformationAction struct {
	// Type is the type of transformation to apply.
	// Supported types:
	//   - "trim"                 : Remove leading and trailing whitespace
	//   - "uppercase"            : Convert to uppercase
	//   - "lowercase"            : Convert to lowercase
	//   - "remove_whitespace"    : Remove all whitespace
	//   - "normalize_whitespace" : Collapse runs of whitespace to one space
	//   - "prepend_string"       : Add Value to the beginning
	//   - "append_string"        : Add Value to the end
	//   - "replace"              : Replace Find with Value
	//   - "regex_replace"        : Replace the Find pattern with Value
	//   - "truncate"             : Cut to Value characters
	//   - "lookup"               : Replace using LookupTable
	//   - "if_empty_use_default" : Use Value when the cell is empty
	Type string `yaml:"type"`

	// Value is the parameter for the transformation.
	Value string `yaml:"value"`

	// Find is used for "replace" and "regex_replace".
	Find string `yaml:"find,omitempty"`

	// LookupTable is used for "lookup".
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Default returns a configuration with every default applied.
func Default() *MainConfig {
	config := &MainConfig{}
	applyMainConfigDefaults(config)
	return config
}

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read, parsed or fails validation.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", configPath, err)
	}

	return config, nil
}

// LoadOrDefault loads the configuration file when it exists and falls back
// to the defaults when it does not.
func LoadOrDefault(configPath string) (*MainConfig, error) {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return LoadMainConfig(configPath)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*MainConfig, error) {
	var config MainConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyMainConfigDefaults(&config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.ErrorDir == "" {
		config.ErrorDir = "./errors"
	}
	if config.ProfilesDir == "" {
		config.ProfilesDir = "./profiles"
	}
	if config.LogFile == "" {
		config.LogFile = "stderr"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "console"
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "{original}_{timestamp}.xml"
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4
	}
	if config.ContinueOnError == nil {
		enabled := true
		config.ContinueOnError = &enabled
	}
	if config.DecimalSeparator == "" {
		config.DecimalSeparator = "auto"
	}
	if config.PreviewRows == 0 {
		config.PreviewRows = 5
	}
	if config.HeaderAliases == nil {
		config.HeaderAliases = make(map[string]string)
	}

	applyCSVDefaults(&config.CSVSettings)

	if config.Creditor.Name == "" {
		config.Creditor.Name = DefaultCreditorName
	}
	if config.Creditor.IBAN == "" {
		config.Creditor.IBAN = DefaultCreditorIBAN
	}
	if config.Creditor.BIC == "" {
		config.Creditor.BIC = DefaultCreditorBIC
	}
	if config.Creditor.SchemeID == "" {
		config.Creditor.SchemeID = DefaultCreditorSchemeID
	}
	if config.Creditor.SequenceType == "" {
		config.Creditor.SequenceType = DefaultCreditorSequenceType
	}

	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if len(config.Server.AllowedOrigins) == 0 {
		config.Server.AllowedOrigins = []string{"*"}
	}
	if config.Server.MaxUploadMB == 0 {
		config.Server.MaxUploadMB = 10
	}
}

// applyCSVDefaults fills unset CSV settings.
func applyCSVDefaults(settings *CSVSettings) {
	if settings.Delimiter == "" {
		settings.Delimiter = ";"
	}
	if settings.HeaderRows == 0 {
		settings.HeaderRows = 1
	}
	if settings.DataStartRow == 0 {
		settings.DataStartRow = settings.HeaderRows + 1
	}
	if settings.Encoding == "" {
		settings.Encoding = "UTF-8"
	}
}

// Validate checks values that cannot be fixed by defaults. Creditor fields
// are checked when a message is built, not here, so that a profile file or
// the input rows can still complete them.
func (c *MainConfig) Validate() error {
	var problems []string

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log_level %q is not one of debug, info, warn, error", c.LogLevel))
	}

	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("log_format %q is not one of console, json", c.LogFormat))
	}

	if c.MaxConcurrency < 1 {
		problems = append(problems, "max_concurrency must be at least 1")
	}

	if !validSeparator(c.DecimalSeparator) {
		problems = append(problems, fmt.Sprintf("decimal_separator %q is not one of auto, \".\", \",\"", c.DecimalSeparator))
	}

	if c.PreviewRows < 0 {
		problems = append(problems, "preview_rows must not be negative")
	}

	if c.CSVSettings.DataStartRow <= c.CSVSettings.HeaderRows {
		problems = append(problems, "csv_settings.data_start_row must come after the header rows")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}

	return nil
}

// validSeparator accepts the spellings normalize.ParseSeparator understands.
func validSeparator(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto", ".", ",", "point", "dot", "comma":
		return true
	}
	return false
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// envKeys lists the keys that can be overridden from the environment.
var envKeys = []string{
	"input_dir", "output_dir", "input_archive_dir", "error_dir", "profiles_dir",
	"log_file", "log_level", "log_format",
	"output_format", "max_concurrency", "decimal_separator", "sheet",
	"creditor_name", "creditor_iban", "creditor_bic", "creditor_scheme_id", "creditor_sequence_type",
	"server_address",
}

// BindEnv registers the SEPA_ environment prefix on v.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("SEPA")
	v.AutomaticEnv()
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}

// ApplyEnv copies every key set in v over the loaded configuration.
func ApplyEnv(config *MainConfig, v *viper.Viper) error {
	targets := map[string]*string{
		"input_dir":              &config.InputDir,
		"output_dir":             &config.OutputDir,
		"input_archive_dir":      &config.InputArchiveDir,
		"error_dir":              &config.ErrorDir,
		"profiles_dir":           &config.ProfilesDir,
		"log_file":               &config.LogFile,
		"log_level":              &config.LogLevel,
		"log_format":             &config.LogFormat,
		"output_format":          &config.OutputFormat,
		"decimal_separator":      &config.DecimalSeparator,
		"sheet":                  &config.Sheet,
		"creditor_name":          &config.Creditor.Name,
		"creditor_iban":          &config.Creditor.IBAN,
		"creditor_bic":           &config.Creditor.BIC,
		"creditor_scheme_id":     &config.Creditor.SchemeID,
		"creditor_sequence_type": &config.Creditor.SequenceType,
		"server_address":         &config.Server.Address,
	}

	for key, target := range targets {
		if value := strings.TrimSpace(v.GetString(key)); value != "" {
			*target = value
		}
	}

	if v.IsSet("max_concurrency") {
		if n := v.GetInt("max_concurrency"); n > 0 {
			config.MaxConcurrency = n
		}
	}

	return config.Validate()
}

// =============================================================================
// CREDITOR PROFILES
// =============================================================================

// LoadProfiles loads all creditor profiles from a directory. A missing
// directory yields no profiles.
func LoadProfiles(profilesDir string) ([]*ProfileConfig, error) {
	if _, err := os.Stat(profilesDir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	files, err := filepath.Glob(filepath.Join(profilesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list profile files: %w", err)
	}

	ymlFiles, err := filepath.Glob(filepath.Join(profilesDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list profile files: %w", err)
	}
	files = append(files, ymlFiles...)

	profiles := make([]*ProfileConfig, 0, len(files))
	for _, file := range files {
		profile, err := loadProfile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		profiles = append(profiles, profile)
	}

	return profiles, nil
}

// loadProfile loads a single profile file.
func loadProfile(filePath string) (*ProfileConfig, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var profile ProfileConfig
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}

	if profile.ProfileName == "" {
		base := filepath.Base(filePath)
		profile.ProfileName = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if !validSeparator(profile.DecimalSeparator) {
		return nil, fmt.Errorf("decimal_separator %q is not one of auto, \".\", \",\"", profile.DecimalSeparator)
	}

	return &profile, nil
}

// MatchProfile returns the first profile with a pattern matching the base
// name of filePath, or nil.
func MatchProfile(filePath string, profiles []*ProfileConfig) *ProfileConfig {
	fileName := filepath.Base(filePath)

	for _, profile := range profiles {
		for _, pattern := range profile.FileMatchingPatterns {
			matched, err := filepath.Match(pattern, fileName)
			if err != nil {
				continue
			}
			if matched {
				return profile
			}
		}
	}

	return nil
}

// WithProfile returns a copy of the configuration with the profile's
// overrides applied. A nil profile returns an unchanged copy.
func (c *MainConfig) WithProfile(profile *ProfileConfig) *MainConfig {
	merged := *c

	merged.HeaderAliases = make(map[string]string, len(c.HeaderAliases))
	for k, v := range c.HeaderAliases {
		merged.HeaderAliases[k] = v
	}
	merged.TransformationRules = append([]TransformationRule(nil), c.TransformationRules...)

	if profile == nil {
		return &merged
	}

	overrideString(&merged.Creditor.Name, profile.Creditor.Name)
	overrideString(&merged.Creditor.IBAN, profile.Creditor.IBAN)
	overrideString(&merged.Creditor.BIC, profile.Creditor.BIC)
	overrideString(&merged.Creditor.SchemeID, profile.Creditor.SchemeID)
	overrideString(&merged.Creditor.SequenceType, profile.Creditor.SequenceType)
	overrideString(&merged.DecimalSeparator, profile.DecimalSeparator)
	overrideString(&merged.Sheet, profile.Sheet)

	for k, v := range profile.HeaderAliases {
		merged.HeaderAliases[k] = v
	}

	if profile.CSVSettings.Delimiter != "" {
		merged.CSVSettings = profile.CSVSettings
		applyCSVDefaults(&merged.CSVSettings)
	}

	merged.TransformationRules = append(merged.TransformationRules, profile.TransformationRules...)

	return &merged
}

func overrideString(target *string, value string) {
	if strings.TrimSpace(value) != "" {
		*target = value
	}
}
