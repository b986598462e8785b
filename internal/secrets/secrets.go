// Package secrets holds keystore credentials and keeps them out of logs.
package secrets

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harshul/droidpanel/internal/model"
)

const (
	// StorePasswordEnv carries the keystore password to apksigner.
	StorePasswordEnv = "DROIDPANEL_KS_PASS"
	// KeyPasswordEnv carries the key password to apksigner.
	KeyPasswordEnv = "DROIDPANEL_KEY_PASS"

	redacted = "********"
)

// Credentials are the passwords needed to sign a release APK. They print as
// redacted in every fmt verb.
type Credentials struct {
	StorePassword string
	KeyPassword   string
}

func (c Credentials) String() string   { return "Credentials{" + redacted + "}" }
func (c Credentials) GoString() string { return c.String() }

// Validate checks both passwords are present.
func (c Credentials) Validate() error {
	if c.StorePassword == "" {
		return fmt.Errorf("store password is required: %w", model.ErrNotValid)
	}
	if c.KeyPassword == "" {
		return fmt.Errorf("key password is required: %w", model.ErrNotValid)
	}
	return nil
}

// Env returns the process environment overlay that hands the passwords to
// apksigner through `--ks-pass env:` and `--key-pass env:`.
func (c Credentials) Env() map[string]string {
	return map[string]string{
		StorePasswordEnv: c.StorePassword,
		KeyPasswordEnv:   c.KeyPassword,
	}
}

// Values returns the non empty secret values, used for redaction.
func (c Credentials) Values() []string {
	var out []string
	for _, v := range []string{c.StorePassword, c.KeyPassword} {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Zero forgets the passwords.
func (c *Credentials) Zero() {
	c.StorePassword = ""
	c.KeyPassword = ""
}

// Mask hides a value for display keeping a hint of its length.
func Mask(value string) string {
	switch {
	case value == "":
		return ""
	case len(value) <= 4:
		return strings.Repeat("*", len(value))
	default:
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
}

// Redact replaces every occurrence of the secrets in text.
func Redact(text string, secrets ...string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, redacted)
	}
	return text
}

// KeystoreProperties is the content of a Gradle keystore.properties file.
type KeystoreProperties struct {
	StoreFile   string
	KeyAlias    string
	Credentials Credentials
}

// ReadProperties reads a KEY=value file. Missing files return an empty map.
func ReadProperties(path string) (map[string]string, error) {
	vars := make(map[string]string)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return vars, nil
		}
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}

	return vars, scanner.Err()
}

// LoadKeystoreProperties reads keystore.properties from the project root, the
// conventional place for signing config in Gradle projects. A relative store
// file is resolved against the project.
func LoadKeystoreProperties(projectDir string) (KeystoreProperties, error) {
	vars, err := ReadProperties(filepath.Join(projectDir, "keystore.properties"))
	if err != nil {
		return KeystoreProperties{}, fmt.Errorf("could not read keystore.properties: %w", err)
	}

	props := KeystoreProperties{
		StoreFile: vars["storeFile"],
		KeyAlias:  vars["keyAlias"],
		Credentials: Credentials{
			StorePassword: vars["storePassword"],
			KeyPassword:   vars["keyPassword"],
		},
	}
	if props.StoreFile != "" && !filepath.IsAbs(props.StoreFile) {
		props.StoreFile = filepath.Join(projectDir, props.StoreFile)
	}

	return props, nil
}
