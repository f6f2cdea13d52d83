// Package postgres implements store.Store against PostgreSQL using
// jmoiron/sqlx over lib/pq, mirroring the table layout of spec §6.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/Forest-Protocols/safe-scan-provider/internal/errors"
	"github.com/Forest-Protocols/safe-scan-provider/internal/model"
	"github.com/Forest-Protocols/safe-scan-provider/internal/store"
)

// Store implements store.Store backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// New wraps an already-opened *sql.DB (see internal/platform/database) as an
// sqlx.DB and returns a Store.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

func (s *Store) GetOrCreateProtocol(ctx context.Context, address model.Address, detailsCID string) (*model.Protocol, error) {
	addr := model.NewAddress(address.String())
	var p model.Protocol
	err := s.db.GetContext(ctx, &p, `SELECT id, address, details_cid AS detailscid FROM protocols WHERE address = $1`, addr.String())
	if err == nil {
		return &p, nil
	}
	if err != sql.ErrNoRows {
		return nil, errors.Domain("get protocol", err)
	}

	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO protocols (address, details_cid) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, address, details_cid
	`, addr.String(), detailsCID)
	var id int64
	var a, cid string
	if err := row.Scan(&id, &a, &cid); err != nil {
		return nil, errors.Domain("create protocol", err)
	}
	return &model.Protocol{ID: id, Address: model.NewAddress(a), DetailsCID: cid}, nil
}

func (s *Store) GetProtocolByAddress(ctx context.Context, address model.Address) (*model.Protocol, error) {
	var row struct {
		ID         int64  `db:"id"`
		Address    string `db:"address"`
		DetailsCID string `db:"details_cid"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT id, address, details_cid FROM protocols WHERE address = $1`, address.String())
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Domain("get protocol by address", err)
	}
	return &model.Protocol{ID: row.ID, Address: model.NewAddress(row.Address), DetailsCID: row.DetailsCID}, nil
}

func (s *Store) GetProvider(ctx context.Context, id int64) (*model.Provider, error) {
	return s.scanProvider(ctx, `SELECT * FROM providers WHERE id = $1`, id)
}

func (s *Store) GetProviderByOwner(ctx context.Context, owner model.Address) (*model.Provider, error) {
	return s.scanProvider(ctx, `SELECT * FROM providers WHERE owner_address = $1`, owner.String())
}

func (s *Store) scanProvider(ctx context.Context, query string, arg any) (*model.Provider, error) {
	var row struct {
		ID                int64          `db:"id"`
		OwnerAddress      string         `db:"owner_address"`
		OperatorAddress   string         `db:"operator_address"`
		Endpoint          string         `db:"endpoint"`
		IsVirtual         bool           `db:"is_virtual"`
		GatewayProviderID sql.NullInt64  `db:"gateway_provider_id"`
		DetailsCID        sql.NullString `db:"details_cid"`
	}
	err := s.db.GetContext(ctx, &row, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Domain("get provider", err)
	}
	p := &model.Provider{
		ID:              row.ID,
		OwnerAddress:    model.NewAddress(row.OwnerAddress),
		OperatorAddress: model.NewAddress(row.OperatorAddress),
		Endpoint:        row.Endpoint,
		IsVirtual:       row.IsVirtual,
		DetailsCID:      row.DetailsCID.String,
	}
	if row.GatewayProviderID.Valid {
		id := row.GatewayProviderID.Int64
		p.GatewayProviderID = &id
	}
	return p, nil
}

func (s *Store) ListVirtualChildren(ctx context.Context, gatewayProviderID int64) ([]model.Provider, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT * FROM providers WHERE is_virtual = true AND gateway_provider_id = $1`, gatewayProviderID)
	if err != nil {
		return nil, errors.Domain("list virtual children", err)
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		var row struct {
			ID                int64          `db:"id"`
			OwnerAddress      string         `db:"owner_address"`
			OperatorAddress   string         `db:"operator_address"`
			Endpoint          string         `db:"endpoint"`
			IsVirtual         bool           `db:"is_virtual"`
			GatewayProviderID sql.NullInt64  `db:"gateway_provider_id"`
			DetailsCID        sql.NullString `db:"details_cid"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, errors.Domain("scan virtual child", err)
		}
		p := model.Provider{
			ID:              row.ID,
			OwnerAddress:    model.NewAddress(row.OwnerAddress),
			OperatorAddress: model.NewAddress(row.OperatorAddress),
			Endpoint:        row.Endpoint,
			IsVirtual:       row.IsVirtual,
			DetailsCID:      row.DetailsCID.String,
		}
		if row.GatewayProviderID.Valid {
			id := row.GatewayProviderID.Int64
			p.GatewayProviderID = &id
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) PutProvider(ctx context.Context, p model.Provider) (*model.Provider, error) {
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO providers (id, owner_address, operator_address, endpoint, is_virtual, gateway_provider_id, details_cid)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			owner_address = EXCLUDED.owner_address,
			operator_address = EXCLUDED.operator_address,
			endpoint = EXCLUDED.endpoint,
			is_virtual = EXCLUDED.is_virtual,
			gateway_provider_id = EXCLUDED.gateway_provider_id,
			details_cid = EXCLUDED.details_cid
		RETURNING id
	`, p.ID, p.OwnerAddress.String(), p.OperatorAddress.String(), p.Endpoint, p.IsVirtual, p.GatewayProviderID, p.DetailsCID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, errors.Domain("put provider", err)
	}
	p.ID = id
	return &p, nil
}

func (s *Store) GetResource(ctx context.Context, id int64, owner model.Address, protocolAddr model.Address) (*model.Resource, error) {
	proto, err := s.GetProtocolByAddress(ctx, protocolAddr)
	if err != nil {
		return nil, err
	}
	if proto == nil {
		return nil, nil
	}
	return s.getResourceByIDAndOwner(ctx, id, proto.ID, &owner)
}

func (s *Store) GetResourceByID(ctx context.Context, id int64, protocolID int64) (*model.Resource, error) {
	return s.getResourceByIDAndOwner(ctx, id, protocolID, nil)
}

func (s *Store) getResourceByIDAndOwner(ctx context.Context, id, protocolID int64, owner *model.Address) (*model.Resource, error) {
	query := `SELECT * FROM resources WHERE id = $1 AND pt_address_id = $2`
	args := []any{id, protocolID}
	if owner != nil {
		query += ` AND owner_address = $3`
		args = append(args, owner.String())
	}
	row := resourceRow{}
	err := s.db.GetContext(ctx, &row, query, args...)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Domain("get resource", err)
	}
	return row.toModel()
}

func (s *Store) ListResourcesByOwner(ctx context.Context, owner model.Address) ([]model.Resource, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT * FROM resources WHERE owner_address = $1`, owner.String())
	if err != nil {
		return nil, errors.Domain("list resources", err)
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		var row resourceRow
		if err := rows.StructScan(&row); err != nil {
			return nil, errors.Domain("scan resource", err)
		}
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) ListResourcesByStatus(ctx context.Context, status model.DeploymentStatus) ([]model.Resource, error) {
	rows, err := s.db.QueryxContext(ctx, `SELECT * FROM resources WHERE is_active = true AND deployment_status = $1`, status)
	if err != nil {
		return nil, errors.Domain("list resources by status", err)
	}
	defer rows.Close()

	var out []model.Resource
	for rows.Next() {
		var row resourceRow
		if err := rows.StructScan(&row); err != nil {
			return nil, errors.Domain("scan resource", err)
		}
		m, err := row.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (s *Store) CreateResource(ctx context.Context, r model.Resource) error {
	detailsJSON, err := r.Details.MarshalForStorage()
	if err != nil {
		return errors.Domain("marshal resource details", err)
	}
	groupName := r.GroupName
	if groupName == "" {
		groupName = "default"
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO resources (id, pt_address_id, name, owner_address, details, deployment_status, group_name, offer_id, is_active, provider_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9, now())
	`, r.ID, r.ProtocolID, r.Name, r.OwnerAddress.String(), detailsJSON, r.DeploymentStatus, groupName, r.OfferID, r.ProviderID)
	if err != nil {
		return errors.Domain("create resource", err)
	}
	return nil
}

// UpdateResource requires (id, protocolAddr); an unknown protocol drops the
// update here with no rows affected, no error and no log line.
func (s *Store) UpdateResource(ctx context.Context, id int64, protocolAddr model.Address, status model.DeploymentStatus, details model.Details) error {
	proto, err := s.GetProtocolByAddress(ctx, protocolAddr)
	if err != nil {
		return err
	}
	if proto == nil {
		return nil
	}
	detailsJSON, err := details.MarshalForStorage()
	if err != nil {
		return errors.Domain("marshal resource details", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE resources SET deployment_status = $3, details = $4 WHERE id = $1 AND pt_address_id = $2
	`, id, proto.ID, status, detailsJSON)
	if err != nil {
		return errors.Domain("update resource", err)
	}
	return nil
}

func (s *Store) DeleteResource(ctx context.Context, id int64, protocolID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE resources SET is_active = false, deployment_status = $3, details = '{}'::jsonb
		WHERE id = $1 AND pt_address_id = $2
	`, id, protocolID, model.StatusClosed)
	if err != nil {
		return errors.Domain("delete resource", err)
	}
	return nil
}

func (s *Store) ResourceExists(ctx context.Context, id int64, protocolID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM resources WHERE id = $1 AND pt_address_id = $2)`, id, protocolID)
	if err != nil {
		return false, errors.Domain("resource exists", err)
	}
	return exists, nil
}

func (s *Store) GetDetailBlob(ctx context.Context, cid string) (*model.DetailBlob, error) {
	var row struct {
		CID     string `db:"cid"`
		Content []byte `db:"content"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT cid, content FROM detail_files WHERE cid = $1`, cid)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("detail blob " + cid)
	}
	if err != nil {
		return nil, errors.Domain("get detail blob", err)
	}
	return &model.DetailBlob{CID: row.CID, Content: row.Content}, nil
}

func (s *Store) PutDetailBlob(ctx context.Context, blob model.DetailBlob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detail_files (cid, content) VALUES ($1, $2)
		ON CONFLICT (cid) DO NOTHING
	`, blob.CID, blob.Content)
	if err != nil {
		return errors.Domain("put detail blob", err)
	}
	return nil
}

// SyncDetailFiles runs the startup-sync law (§4.1) as a single transaction:
// delete rows whose CID is absent from contents, then upsert contents.
func (s *Store) SyncDetailFiles(ctx context.Context, contents []model.DetailBlob) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Domain("begin sync tx", err)
	}
	defer tx.Rollback()

	cids := make([]string, len(contents))
	for i, c := range contents {
		cids[i] = c.CID
	}
	if len(cids) == 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM detail_files`); err != nil {
			return errors.Domain("sync delete all", err)
		}
	} else {
		query, args, err := sqlx.In(`DELETE FROM detail_files WHERE cid NOT IN (?)`, cids)
		if err != nil {
			return errors.Domain("build sync delete", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return errors.Domain("sync delete", err)
		}
	}

	for _, c := range contents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO detail_files (cid, content) VALUES ($1, $2)
			ON CONFLICT (cid) DO NOTHING
		`, c.CID, c.Content); err != nil {
			return errors.Domain("sync upsert", err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetConfig(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM config WHERE key = $1`, key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Domain("get config", err)
	}
	return value, true, nil
}

func (s *Store) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	if err != nil {
		return errors.Domain("set config", err)
	}
	return nil
}

func (s *Store) GetOfferConfiguration(ctx context.Context, offerID, protocolID int64) (*model.VirtualProviderOfferConfig, error) {
	var row struct {
		ID            int64  `db:"id"`
		Configuration []byte `db:"configuration"`
		PtAddressID   int64  `db:"pt_address_id"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, configuration, pt_address_id FROM virtual_provider_offer_configurations
		WHERE pt_address_id = $1 AND id = $2
	`, protocolID, offerID)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("offer configuration")
	}
	if err != nil {
		return nil, errors.Domain("get offer configuration", err)
	}
	return &model.VirtualProviderOfferConfig{ID: row.ID, OfferID: offerID, ProtocolID: row.PtAddressID, Configuration: row.Configuration}, nil
}

func (s *Store) PutOfferConfiguration(ctx context.Context, cfg model.VirtualProviderOfferConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO virtual_provider_offer_configurations (id, configuration, pt_address_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET configuration = EXCLUDED.configuration
	`, cfg.OfferID, []byte(cfg.Configuration), cfg.ProtocolID)
	if err != nil {
		return errors.Domain("put offer configuration", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// resourceRow mirrors the resources table for sqlx StructScan/Get.
type resourceRow struct {
	ID               int64  `db:"id"`
	PtAddressID      int64  `db:"pt_address_id"`
	Name             string `db:"name"`
	OwnerAddress     string `db:"owner_address"`
	Details          []byte `db:"details"`
	DeploymentStatus string `db:"deployment_status"`
	GroupName        string `db:"group_name"`
	OfferID          int64  `db:"offer_id"`
	IsActive         bool   `db:"is_active"`
	ProviderID       int64  `db:"provider_id"`
}

func (r resourceRow) toModel() (*model.Resource, error) {
	details := model.Details{}
	if len(r.Details) > 0 {
		if err := json.Unmarshal(r.Details, &details); err != nil {
			return nil, errors.Domain("unmarshal resource details", err)
		}
	}
	return &model.Resource{
		ID:               r.ID,
		ProtocolID:       r.PtAddressID,
		Name:             r.Name,
		OwnerAddress:     model.NewAddress(r.OwnerAddress),
		OfferID:          r.OfferID,
		ProviderID:       r.ProviderID,
		GroupName:        r.GroupName,
		DeploymentStatus: model.DeploymentStatus(r.DeploymentStatus),
		Details:          details,
		IsActive:         r.IsActive,
	}, nil
}
