// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"maps-workers/pkg/registry"
)

var registryPath string

func main() {
	writeCmd := pflag.NewFlagSet("write", pflag.ExitOnError)
	updateCmd := pflag.NewFlagSet("update", pflag.ExitOnError)
	validateCmd := pflag.NewFlagSet("validate", pflag.ExitOnError)

	for _, fs := range []*pflag.FlagSet{writeCmd, updateCmd, validateCmd} {
		fs.StringVar(&registryPath, "path", "configs/activity-registry.json", "Path to registry file")
	}

	// Update command flags
	idUpdate := updateCmd.String("id", "", "Activity ID to update")
	field := updateCmd.String("field", "", "Field to update (timeout, retries, etc.)")
	value := updateCmd.String("value", "", "New value for the field")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "write":
		writeCmd.Parse(os.Args[2:])
		reg := registry.Default()
		reg.LastUpdated = time.Now().Format(time.RFC3339)
		if err := saveRegistry(reg, registryPath); err != nil {
			fmt.Printf("Error writing registry: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %d activities to %s\n", len(reg.Activities), registryPath)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *idUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: id, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateActivity(*idUpdate, *field, *value); err != nil {
			fmt.Printf("Error updating activity: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated activity %s, field %s to %s\n", *idUpdate, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateRegistry(); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Registry validation passed.")

	case "help":
		fallthrough
	default:
		help()
	}
}

func updateActivity(id, field, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	found := false
	for i := range reg.Activities {
		if reg.Activities[i].ID != id {
			continue
		}
		found = true
		switch field {
		case "displayName":
			reg.Activities[i].DisplayName = value
		case "description":
			reg.Activities[i].Description = value
		case "timeout":
			if _, err := time.ParseDuration(value); err != nil {
				return fmt.Errorf("invalid timeout value: %w", err)
			}
			reg.Activities[i].Timeout = value
		case "retries":
			retries, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid retries value: %w", err)
			}
			reg.Activities[i].Retries = retries
		default:
			return fmt.Errorf("unknown field: %s", field)
		}
		break
	}

	if !found {
		return fmt.Errorf("activity with ID %s not found", id)
	}

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	return saveRegistry(reg, registryPath)
}

// validateRegistry checks the file and that it describes exactly the task
// types the worker manager serves.
func validateRegistry() error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return err
	}

	served := registry.Default()
	for _, taskType := range reg.TaskTypes() {
		if _, ok := served.Lookup(taskType); !ok {
			return fmt.Errorf("task type %s has no worker", taskType)
		}
	}
	for _, taskType := range served.TaskTypes() {
		if _, ok := reg.Lookup(taskType); !ok {
			return fmt.Errorf("task type %s missing from registry", taskType)
		}
	}

	fmt.Printf("Found %d activities.\n", len(reg.Activities))
	return nil
}

// saveRegistry handles saving the registry to file
func saveRegistry(reg *registry.ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  write    Write the activity registry of the map workers to a file
  update   Update an existing activity's field
  validate Validate the registry file against the served task types
  help     Show this help message

Examples:
  registry-updater write --path configs/activity-registry.json
  registry-updater update --id maps.export --field timeout --value 5m
  registry-updater validate --path configs/activity-registry.json

Use 'registry-updater <command> -h' for more information about a command.

`)
}
