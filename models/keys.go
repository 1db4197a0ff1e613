package models

import "strings"

// ChangeType names the record family a change belongs to.
type ChangeType string

const (
	ChangeSetting       ChangeType = "setting"
	ChangeTag           ChangeType = "tag"
	ChangeAIInstruction ChangeType = "ai_instruction"
	ChangeTemplate      ChangeType = "template"
	ChangeProject       ChangeType = "project"
)

// RecordFamilies lists the collection families in the order they are pulled and merged.
var RecordFamilies = []ChangeType{ChangeTag, ChangeAIInstruction, ChangeTemplate, ChangeProject}

// SyncEligibleKeys are the settings that replicate to the account.
// Family records ("tag:7", "project:abc", ...) are always eligible.
var SyncEligibleKeys = map[string]bool{
	"theme":                      true,
	"diff-view-mode":             true,
	"diff-ignore-whitespace":     true,
	"diff-context-lines":         true,
	"assembler-default-template": true,
	"annotator-default-color":    true,
	"editor-font-size":           true,
	"default-model":              true,
	"claude-api-key":             true,
	"openai-api-key":             true,
	"gemini-api-key":             true,
	"github-token":               true,
}

// SensitiveKeys are encrypted before they leave the device.
var SensitiveKeys = map[string]bool{
	"claude-api-key": true,
	"openai-api-key": true,
	"gemini-api-key": true,
	"github-token":   true,
}

// localOnlyPrefixes never sync, even if someone adds them to the allow-list.
var localOnlyPrefixes = []string{"auth-token", "ui-"}

// RecordKey builds the local key of a family record.
func RecordKey(t ChangeType, id RecordID) string {
	return string(t) + ":" + string(id)
}

// SplitRecordKey reverses RecordKey. ok is false for settings.
func SplitRecordKey(key string) (t ChangeType, id RecordID, ok bool) {
	for _, fam := range RecordFamilies {
		prefix := string(fam) + ":"
		if strings.HasPrefix(key, prefix) && len(key) > len(prefix) {
			return fam, RecordID(key[len(prefix):]), true
		}
	}
	return ChangeSetting, "", false
}

// InferChangeType derives the change type from the key prefix.
func InferChangeType(key string) ChangeType {
	t, _, _ := SplitRecordKey(key)
	return t
}

func isLocalOnly(key string) bool {
	for _, p := range localOnlyPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// IsSyncEligible reports whether writes to key are replicated.
func IsSyncEligible(key string) bool {
	if key == "" || isLocalOnly(key) {
		return false
	}
	if _, _, ok := SplitRecordKey(key); ok {
		return true
	}
	return SyncEligibleKeys[key]
}

// IsSensitive reports whether key holds a secret that must be encrypted for upload.
func IsSensitive(key string) bool {
	return SensitiveKeys[key]
}
