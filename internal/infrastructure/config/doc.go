// Package config handles loading and validating periphctl configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with PERIPHCTL_* environment variables
//   - Validation of required fields
//   - Default value handling, including the default module boot list
//
// Security Considerations:
//   - The api_key and Wi-Fi password should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Both secrets are only seeds: the settings store holds the live copies
//
// Usage:
//
//	cfg, err := config.Load(config.Path())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, m := range cfg.BootModules() {
//	    fmt.Println(m.Name, m.Type)
//	}
package config
