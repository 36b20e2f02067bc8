package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "./input", cfg.InputDir)
	assert.Equal(t, "auto", cfg.DecimalSeparator)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.True(t, *cfg.ContinueOnError)
	assert.Equal(t, ";", cfg.CSVSettings.Delimiter)
	assert.Equal(t, 2, cfg.CSVSettings.DataStartRow)
	assert.Equal(t, DefaultCreditorIBAN, cfg.Creditor.IBAN)
	assert.Equal(t, DefaultCreditorSequenceType, cfg.Creditor.SequenceType)
	assert.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	data := []byte(`
output_dir: ./xml
decimal_separator: ","
continue_on_error: false
header_aliases:
  Betrag: Amount
creditor:
  name: Sportverein e.V.
  sequence_type: RCUR
csv_settings:
  delimiter: tab
  header_rows: 2
`)

	cfg, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, "./xml", cfg.OutputDir)
	assert.Equal(t, ",", cfg.DecimalSeparator)
	assert.False(t, *cfg.ContinueOnError)
	assert.Equal(t, "Amount", cfg.HeaderAliases["Betrag"])
	assert.Equal(t, "Sportverein e.V.", cfg.Creditor.Name)
	assert.Equal(t, "RCUR", cfg.Creditor.SequenceType)
	assert.Equal(t, DefaultCreditorBIC, cfg.Creditor.BIC)
	assert.Equal(t, 3, cfg.CSVSettings.DataStartRow)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", "input_dir: [unclosed"},
		{"bad level", "log_level: loud"},
		{"bad separator", "decimal_separator: ';'"},
		{"negative concurrency", "max_concurrency: -2"},
		{"data before header", "csv_settings:\n  header_rows: 2\n  data_start_row: 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadOrDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadOrDefault(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultCreditorName, cfg.Creditor.Name)

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sheet: Lastschriften\n"), 0o644))

	cfg, err = LoadOrDefault(path)
	require.NoError(t, err)
	assert.Equal(t, "Lastschriften", cfg.Sheet)
}

func TestApplyEnv(t *testing.T) {
	cfg := Default()

	v := viper.New()
	v.Set("creditor_iban", "DE89370400440532013000")
	v.Set("max_concurrency", 8)
	v.Set("log_level", "debug")

	require.NoError(t, ApplyEnv(cfg, v))
	assert.Equal(t, "DE89370400440532013000", cfg.Creditor.IBAN)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultCreditorBIC, cfg.Creditor.BIC)

	v.Set("decimal_separator", "semicolon")
	assert.Error(t, ApplyEnv(cfg, v))
}

func TestBindEnv(t *testing.T) {
	t.Setenv("SEPA_CREDITOR_NAME", "Env Creditor")

	v := viper.New()
	BindEnv(v)

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, v))
	assert.Equal(t, "Env Creditor", cfg.Creditor.Name)
}

func TestProfiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "club.yaml"), []byte(`
file_matching_patterns: ["members_*.xlsx"]
decimal_separator: ","
creditor:
  name: Club
  iban: DE27100777770209299700
header_aliases:
  Mitglied: Name
`), 0o644))

	profiles, err := LoadProfiles(dir)
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "club", profiles[0].ProfileName)

	assert.Nil(t, MatchProfile("/in/other.xlsx", profiles))

	profile := MatchProfile("/in/members_2024.xlsx", profiles)
	require.NotNil(t, profile)

	base := Default()
	base.HeaderAliases["Betrag"] = "Amount"

	merged := base.WithProfile(profile)
	assert.Equal(t, "Club", merged.Creditor.Name)
	assert.Equal(t, "DE27100777770209299700", merged.Creditor.IBAN)
	assert.Equal(t, DefaultCreditorBIC, merged.Creditor.BIC)
	assert.Equal(t, ",", merged.DecimalSeparator)
	assert.Equal(t, "Name", merged.HeaderAliases["Mitglied"])
	assert.Equal(t, "Amount", merged.HeaderAliases["Betrag"])

	// The base config is left untouched.
	assert.Equal(t, DefaultCreditorName, base.Creditor.Name)
	_, ok := base.HeaderAliases["Mitglied"]
	assert.False(t, ok)
}

func TestLoadProfilesMissingDir(t *testing.T) {
	profiles, err := LoadProfiles(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, profiles)
}
