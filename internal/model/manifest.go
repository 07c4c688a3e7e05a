// Package model carries the gateway's domain records. The wire types shared
// with SDK consumers are defined in pkg/relay and aliased here so internal
// call sites stay on one package.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/relay-protocol/relay/pkg/relay"
)

// Wire types shared with clients. See pkg/relay for the definitions.
type (
	Manifest           = relay.Manifest
	AgentContext       = relay.AgentContext
	ActionRequest      = relay.ActionRequest
	Justification      = relay.Justification
	ValidationRequest  = relay.ValidationRequest
	ValidationResponse = relay.ValidationResponse

	Seal                 = relay.Seal
	VerificationResponse = relay.VerificationResponse

	OrgRegisterRequest    = relay.OrgRegisterRequest
	OrgRegisterResponse   = relay.OrgRegisterResponse
	InitialAgentInfo      = relay.InitialAgentInfo
	OrgInfoResponse       = relay.OrgInfoResponse
	AgentRegisterRequest  = relay.AgentRegisterRequest
	AgentRegisterResponse = relay.AgentRegisterResponse
	AgentInfo             = relay.AgentInfo
	AgentListResponse     = relay.AgentListResponse
)

// DefaultSealTTL mirrors the wire package's default seal lifetime.
const DefaultSealTTL = relay.DefaultSealTTL

// NewSealID derives a seal identifier; see relay.NewSealID.
func NewSealID(manifestID uuid.UUID, issuedAt time.Time) string {
	return relay.NewSealID(manifestID, issuedAt)
}
