package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Roles known to the row-level security policies.
var validRoles = map[string]bool{
	"admin":        true,
	"practitioner": true,
	"nurse":        true,
	"receptionist": true,
	"patient":      true,
}

// ValidRole reports whether role is one of the mapped roles.
func ValidRole(role string) bool {
	return validRoles[role]
}

// ErrMappingNotFound is returned when a Gateway user has no active role in a tenant.
var ErrMappingNotFound = errors.New("user mapping not found")

// UserMapping links a Gateway user to a role inside a tenant.
type UserMapping struct {
	TenantID       string
	GatewayUserID  string
	Role           string
	PatientID      *string
	PractitionerID *string
	Active         bool
}

// Session converts the mapping into the database session for a request.
func (m *UserMapping) Session() Session {
	s := Session{TenantID: m.TenantID, UserID: m.GatewayUserID, Role: m.Role}
	if m.PatientID != nil {
		s.PatientID = *m.PatientID
	}
	if m.PractitionerID != nil {
		s.PractitionerID = *m.PractitionerID
	}
	return s
}

// TenantStore manages tenants and user mappings. These tables carry no
// row-level security and are only reached through the pool.
type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

// CreateTenant registers a tenant. Re-creating an existing tenant updates its name.
func (s *TenantStore) CreateTenant(ctx context.Context, id, name string) error {
	if !ValidTenantID(id) {
		return fmt.Errorf("invalid tenant identifier: %s", id)
	}
	if name == "" {
		name = id
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tenants (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`, id, name)
	if err != nil {
		return fmt.Errorf("create tenant %s: %w", id, err)
	}
	return nil
}

// UpsertUserMapping creates or replaces the role of a user in a tenant.
func (s *TenantStore) UpsertUserMapping(ctx context.Context, m *UserMapping) error {
	if !ValidTenantID(m.TenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", m.TenantID)
	}
	if m.GatewayUserID == "" {
		return fmt.Errorf("gateway user id is required")
	}
	if !ValidRole(m.Role) {
		return fmt.Errorf("invalid role %q", m.Role)
	}
	if m.Role == "patient" && m.PatientID == nil {
		return fmt.Errorf("role patient requires a linked patient id")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_mappings (tenant_id, gateway_user_id, role, patient_id, practitioner_id, active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		ON CONFLICT (tenant_id, gateway_user_id) DO UPDATE SET
			role = EXCLUDED.role,
			patient_id = EXCLUDED.patient_id,
			practitioner_id = EXCLUDED.practitioner_id,
			active = TRUE,
			updated_at = NOW()`,
		m.TenantID, m.GatewayUserID, m.Role, m.PatientID, m.PractitionerID,
	)
	if err != nil {
		return fmt.Errorf("upsert user mapping: %w", err)
	}
	return nil
}

// LookupUserMapping returns the active mapping of userID in an active tenant.
func (s *TenantStore) LookupUserMapping(ctx context.Context, tenantID, userID string) (*UserMapping, error) {
	m := &UserMapping{}
	err := s.pool.QueryRow(ctx, `
		SELECT um.tenant_id, um.gateway_user_id, um.role, um.patient_id::text, um.practitioner_id::text, um.active
		FROM user_mappings um
		JOIN tenants t ON t.id = um.tenant_id
		WHERE um.tenant_id = $1 AND um.gateway_user_id = $2 AND um.active AND t.active`,
		tenantID, userID,
	).Scan(&m.TenantID, &m.GatewayUserID, &m.Role, &m.PatientID, &m.PractitionerID, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user mapping: %w", err)
	}
	return m, nil
}
