// Package graph provides the SQLite persistence layer for the application
// state graph: nodes, edges, traffic entries, and reconciliation payloads.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hazyhaar/appgraph/dbopen"
	"github.com/hazyhaar/appgraph/idgen"
)

// ErrNotFound is returned when an operation references a node or edge that
// does not exist.
var ErrNotFound = errors.New("graph: not found")

// Store is the appgraph database handle. Writes are serialized by SQLite;
// concurrent node creation is race-free because every creator generates its
// own id before writing.
type Store struct {
	DB     *sql.DB
	logger *slog.Logger

	nodeID idgen.Generator
	edgeID idgen.Generator

	// Screenshot directories for cascading file removal. Empty means no
	// files are managed by this store.
	screenshotDir string
	annotatedDir  string
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithScreenshotDirs sets the directories holding node screenshots and
// annotated screenshots, enabling best-effort file removal on node delete.
func WithScreenshotDirs(screenshots, annotated string) StoreOption {
	return func(s *Store) {
		s.screenshotDir = screenshots
		s.annotatedDir = annotated
	}
}

// WithIDGenerators overrides the node and edge id generators.
func WithIDGenerators(node, edge idgen.Generator) StoreOption {
	return func(s *Store) {
		s.nodeID = node
		s.edgeID = edge
	}
}

// Open opens (or creates) the appgraph SQLite database at path, applies
// pragmas and the schema.
func Open(path string, opts ...StoreOption) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

// New wraps an existing database handle. The schema must already be applied.
func New(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		DB:     db,
		logger: slog.Default(),
		nodeID: idgen.Prefixed("nd_", idgen.Default),
		edgeID: idgen.Prefixed("ed_", idgen.Default),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}

// CreateNode persists a node and its reconciliation payload in one
// transaction. An empty n.ID is filled with a fresh unique id; n.CreatedAt
// defaults to now. po may be nil for nodes captured without analysis.
func (s *Store) CreateNode(ctx context.Context, n *Node, po *ParserOutput) error {
	if n.ID == "" {
		n.ID = s.nodeID()
	}
	if n.CreatedAt == 0 {
		n.CreatedAt = time.Now().Unix()
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO nodes (id, label, description, screenshot_path, annotated_screenshot_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Label, n.Description, n.ScreenshotPath, n.AnnotatedScreenshotPath, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("graph: insert node: %w", err)
	}

	if po != nil {
		po.NodeID = n.ID
		elements, err := json.Marshal(po.Elements)
		if err != nil {
			return fmt.Errorf("graph: marshal elements: %w", err)
		}
		state, err := json.Marshal(po.ScreenState)
		if err != nil {
			return fmt.Errorf("graph: marshal screen state: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO parser_outputs (node_id, elements, screen_state) VALUES (?, ?, ?)`,
			po.NodeID, string(elements), string(state))
		if err != nil {
			return fmt.Errorf("graph: insert parser output: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graph: commit: %w", err)
	}
	return nil
}

// GetNode returns a node by id, or ErrNotFound.
func (s *Store) GetNode(ctx context.Context, id string) (*Node, error) {
	var n Node
	err := s.DB.QueryRowContext(ctx,
		`SELECT id, label, description, screenshot_path, annotated_screenshot_path, created_at
		 FROM nodes WHERE id = ?`, id).
		Scan(&n.ID, &n.Label, &n.Description, &n.ScreenshotPath, &n.AnnotatedScreenshotPath, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("graph: get node: %w", err)
	}
	return &n, nil
}

// ListNodes returns all nodes, oldest first.
func (s *Store) ListNodes(ctx context.Context) ([]Node, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, label, description, screenshot_path, annotated_screenshot_path, created_at
		 FROM nodes ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("graph: list nodes: %w", err)
	}
	defer rows.Close()

	var nodes []Node
	for rows.Next() {
		var n Node
		if err := rows.Scan(&n.ID, &n.Label, &n.Description, &n.ScreenshotPath,
			&n.AnnotatedScreenshotPath, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("graph: scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// GetParserOutput returns the reconciliation payload for a node, or nil
// when the node has none.
func (s *Store) GetParserOutput(ctx context.Context, nodeID string) (*ParserOutput, error) {
	var elements, state string
	err := s.DB.QueryRowContext(ctx,
		`SELECT elements, screen_state FROM parser_outputs WHERE node_id = ?`, nodeID).
		Scan(&elements, &state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("graph: get parser output: %w", err)
	}

	po := &ParserOutput{NodeID: nodeID}
	if err := json.Unmarshal([]byte(elements), &po.Elements); err != nil {
		return nil, fmt.Errorf("graph: decode elements: %w", err)
	}
	if err := json.Unmarshal([]byte(state), &po.ScreenState); err != nil {
		return nil, fmt.Errorf("graph: decode screen state: %w", err)
	}
	return po, nil
}

// CreateEdge persists an edge. Both endpoints must reference existing
// nodes; a dangling reference reports ErrNotFound. An empty e.ID is filled
// with a fresh unique id.
func (s *Store) CreateEdge(ctx context.Context, e *Edge) error {
	if e.ID == "" {
		e.ID = s.edgeID()
	}

	for _, nodeID := range []string{e.SourceNodeID, e.TargetNodeID} {
		var one int
		err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE id = ?`, nodeID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("graph: edge references node %s: %w", nodeID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("graph: check node: %w", err)
		}
	}

	animated := 0
	if e.Animated {
		animated = 1
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO edges (id, source_node_id, target_node_id, label, animated)
		 VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.SourceNodeID, e.TargetNodeID, e.Label, animated)
	if err != nil {
		return fmt.Errorf("graph: insert edge: %w", err)
	}
	return nil
}

// ListEdges returns all edges.
func (s *Store) ListEdges(ctx context.Context) ([]Edge, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, source_node_id, target_node_id, label, animated FROM edges ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("graph: list edges: %w", err)
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var animated int
		if err := rows.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &e.Label, &animated); err != nil {
			return nil, fmt.Errorf("graph: scan edge: %w", err)
		}
		e.Animated = animated == 1
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// DeleteNode removes a node and, in the same transaction, every edge where
// it is source or target, every traffic entry tied to those edges, and its
// parser output. ErrNotFound when the id is absent.
//
// Screenshot files are removed afterwards on a best-effort basis: the
// database is the authoritative state, so filesystem failures are logged
// and swallowed rather than surfaced to the caller.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("graph: begin: %w", err)
	}
	defer tx.Rollback()

	var screenshot, annotated string
	err = tx.QueryRowContext(ctx,
		`SELECT screenshot_path, annotated_screenshot_path FROM nodes WHERE id = ?`, id).
		Scan(&screenshot, &annotated)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("graph: load node: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM traffic_index WHERE edge_id IN
		   (SELECT id FROM edges WHERE source_node_id = ? OR target_node_id = ?)`, id, id); err != nil {
		return fmt.Errorf("graph: delete traffic: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges WHERE source_node_id = ? OR target_node_id = ?`, id, id); err != nil {
		return fmt.Errorf("graph: delete edges: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM parser_outputs WHERE node_id = ?`, id); err != nil {
		return fmt.Errorf("graph: delete parser output: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM nodes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("graph: delete node: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("graph: commit: %w", err)
	}

	s.removeFile(s.screenshotDir, screenshot)
	s.removeFile(s.annotatedDir, annotated)
	return nil
}

func (s *Store) removeFile(dir, name string) {
	if dir == "" || name == "" {
		return
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("graph: screenshot removal failed", "path", path, "error", err)
	}
}
