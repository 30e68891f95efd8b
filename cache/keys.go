package cache

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Key layout. Country codes are uppercased so authoring and runtime
// paths converge on the same keys regardless of caller casing.

func workflowKey(countryISO string, promotionID uuid.UUID, version int) string {
	return fmt.Sprintf("wf:%s:%s:v%d", strings.ToUpper(countryISO), promotionID, version)
}

func manifestKey(countryISO string, promotionID uuid.UUID, version int) string {
	return fmt.Sprintf("wf:manifest:%s:%s:v%d", strings.ToUpper(countryISO), promotionID, version)
}

func indexKey(countryISO string) string {
	return "wf:index:" + strings.ToUpper(countryISO)
}

func activeKey(countryISO string) string {
	return "wf:active:" + strings.ToUpper(countryISO)
}

func metadataKey(promotionID uuid.UUID) string {
	return "wf:metadata:" + promotionID.String()
}
