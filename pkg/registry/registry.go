// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

const Version = "1.0.0"

func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return &reg, nil
}

// Lookup returns the activity registered for taskType.
func (r *ActivityRegistry) Lookup(taskType string) (Activity, bool) {
	for _, a := range r.Activities {
		if a.TaskType == taskType {
			return a, true
		}
	}
	return Activity{}, false
}

// Validate checks that every activity has the fields the worker manager
// relies on and that ids and task types are unique.
func (r *ActivityRegistry) Validate() error {
	if len(r.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}

	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)
	for _, activity := range r.Activities {
		if activity.ID == "" {
			return fmt.Errorf("activity missing required field: ID")
		}
		if ids[activity.ID] {
			return fmt.Errorf("duplicate activity ID: %s", activity.ID)
		}
		ids[activity.ID] = true

		if activity.DisplayName == "" {
			return fmt.Errorf("activity %s missing required field: DisplayName", activity.ID)
		}
		if activity.TaskType == "" {
			return fmt.Errorf("activity %s missing required field: TaskType", activity.ID)
		}
		if taskTypes[activity.TaskType] {
			return fmt.Errorf("duplicate task type: %s", activity.TaskType)
		}
		taskTypes[activity.TaskType] = true

		if activity.Category == "" {
			return fmt.Errorf("activity %s missing required field: Category", activity.ID)
		}
	}
	return nil
}

// TaskTypes lists the registered task types in registry order.
func (r *ActivityRegistry) TaskTypes() []string {
	types := make([]string, 0, len(r.Activities))
	for _, a := range r.Activities {
		types = append(types, a.TaskType)
	}
	return types
}

func object(required []string, props map[string]interface{}) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var (
	stringType  = map[string]interface{}{"type": "string"}
	integerType = map[string]interface{}{"type": "integer"}
	booleanType = map[string]interface{}{"type": "boolean"}
	objectType  = map[string]interface{}{"type": "object"}
	stringList  = map[string]interface{}{"type": "array", "items": stringType}
	refList     = map[string]interface{}{
		"type": "array",
		"items": object([]string{"name", "type", "id"}, map[string]interface{}{
			"name": stringType,
			"type": stringType,
			"id":   stringType,
		}),
	}
)

// Default describes the map saved-object activities served by the workers.
func Default() *ActivityRegistry {
	codecErrors := []string{"MALFORMED_DOCUMENT", "MISSING_REFERENCE", "INVALID_INPUT"}
	storageErrors := []string{"STORAGE_UNAVAILABLE", "STORAGE_QUERY_FAILED", "STORAGE_TIMEOUT"}

	return &ActivityRegistry{
		Version: Version,
		Activities: []Activity{
			{
				ID:          "maps.extract-references",
				DisplayName: "Extract map references",
				Description: "Replaces index-pattern ids in a map layer list with named references.",
				Category:    "maps",
				TaskType:    "extract-map-references",
				InputSchema: object([]string{"attributes"}, map[string]interface{}{
					"attributes": objectType,
					"references": refList,
				}),
				OutputSchema: object(nil, map[string]interface{}{
					"attributes":     objectType,
					"references":     refList,
					"extractedCount": integerType,
				}),
				ErrorCodes: codecErrors,
				Timeout:    "10s",
				Tags:       []string{"codec"},
			},
			{
				ID:          "maps.inject-references",
				DisplayName: "Inject map references",
				Description: "Resolves named references in a map layer list back to index-pattern ids.",
				Category:    "maps",
				TaskType:    "inject-map-references",
				InputSchema: object([]string{"attributes", "references"}, map[string]interface{}{
					"attributes": objectType,
					"references": refList,
				}),
				OutputSchema: object(nil, map[string]interface{}{"attributes": objectType}),
				ErrorCodes:   codecErrors,
				Timeout:      "10s",
				Tags:         []string{"codec"},
			},
			{
				ID:          "maps.save",
				DisplayName: "Save map",
				Description: "Validates a map, extracts its references and stores it.",
				Category:    "maps",
				TaskType:    "save-map",
				InputSchema: object([]string{"attributes"}, map[string]interface{}{
					"mapId":      stringType,
					"attributes": objectType,
					"references": refList,
				}),
				OutputSchema: object(nil, map[string]interface{}{
					"mapId":      stringType,
					"references": refList,
					"updatedAt":  stringType,
				}),
				ErrorCodes: append([]string{"MAP_VALIDATION_FAILED"}, append(codecErrors, storageErrors...)...),
				Timeout:    "30s",
				Retries:    3,
				Tags:       []string{"storage"},
			},
			{
				ID:           "maps.load",
				DisplayName:  "Load map",
				Description:  "Loads a stored map with its references injected.",
				Category:     "maps",
				TaskType:     "load-map",
				InputSchema:  object([]string{"mapId"}, map[string]interface{}{"mapId": stringType}),
				OutputSchema: object(nil, map[string]interface{}{"map": objectType}),
				ErrorCodes:   append([]string{"MAP_NOT_FOUND"}, append(codecErrors, storageErrors...)...),
				Timeout:      "30s",
				Retries:      3,
				Tags:         []string{"storage", "cache"},
			},
			{
				ID:          "maps.find",
				DisplayName: "Find maps",
				Description: "Lists maps by title prefix and tags.",
				Category:    "maps",
				TaskType:    "find-maps",
				InputSchema: object(nil, map[string]interface{}{
					"search":      stringType,
					"limit":       integerType,
					"includeTags": stringList,
					"excludeTags": stringList,
				}),
				OutputSchema: object(nil, map[string]interface{}{
					"total": integerType,
					"maps":  map[string]interface{}{"type": "array", "items": objectType},
				}),
				ErrorCodes: append([]string{"INVALID_INPUT"}, storageErrors...),
				Timeout:    "30s",
				Retries:    3,
				Tags:       []string{"storage"},
			},
			{
				ID:           "maps.delete",
				DisplayName:  "Delete maps",
				Description:  "Deletes maps by id and reports ids that did not exist.",
				Category:     "maps",
				TaskType:     "delete-maps",
				InputSchema:  object([]string{"mapIds"}, map[string]interface{}{"mapIds": stringList}),
				OutputSchema: object(nil, map[string]interface{}{"deleted": stringList, "notFound": stringList}),
				ErrorCodes:   append([]string{"INVALID_INPUT"}, storageErrors...),
				Timeout:      "30s",
				Retries:      3,
				Tags:         []string{"storage"},
			},
			{
				ID:          "maps.export",
				DisplayName: "Export maps",
				Description: "Exports every map as NDJSON with a trailing details line.",
				Category:    "maps",
				TaskType:    "export-maps",
				InputSchema: object(nil, map[string]interface{}{"includeContent": booleanType}),
				OutputSchema: object(nil, map[string]interface{}{
					"exportDetails": objectType,
					"upload":        objectType,
					"ndjson":        stringType,
				}),
				ErrorCodes: append([]string{"EXPORT_UPLOAD_FAILED", "INVALID_INPUT"}, storageErrors...),
				Timeout:    "2m",
				Retries:    3,
				Tags:       []string{"storage", "export"},
			},
		},
	}
}
