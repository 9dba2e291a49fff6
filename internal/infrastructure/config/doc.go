// Package config handles loading and validating the NBE bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (NBE_BRIDGE_*)
//   - Validation of required fields
//   - Default value handling, including the controller identity labels
//
// Security Considerations:
//   - The controller password and MQTT credentials should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.DeviceID())
package config
