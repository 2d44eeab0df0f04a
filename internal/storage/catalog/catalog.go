// Package catalog implements the system catalog: the durable mapping from
// table and index names to their schema and their storage roots (a table
// heap's first page, or a B+Tree's header page). It follows the teacher
// repo's catalog in spirit — entries are JSON blobs keyed by name — but
// persists them through a dedicated table heap rather than a generic KV
// B+Tree, since this kernel's only B+Tree is a typed-key domain index, not
// a byte-string store.
package catalog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/stratumdb/kernel/internal/storage/buffer"
	"github.com/stratumdb/kernel/internal/storage/heap"
	"github.com/stratumdb/kernel/internal/storage/page"
	"github.com/stratumdb/kernel/internal/storage/rid"
	"github.com/stratumdb/kernel/internal/storage/types"
)

// ErrNotFound is returned when a lookup by name fails.
var ErrNotFound = fmt.Errorf("catalog: not found")

// ErrAlreadyExists is returned when creating a table or index whose name is
// already registered.
var ErrAlreadyExists = fmt.Errorf("catalog: name already exists")

// entryKind discriminates the two record shapes sharing the catalog heap.
type entryKind uint8

const (
	kindTable entryKind = iota + 1
	kindIndex
)

// record is the on-disk envelope for one catalog heap tuple.
type record struct {
	Kind    entryKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// columnWire is the JSON-friendly mirror of types.Column.
type columnWire struct {
	Name      string     `json:"name"`
	Kind      types.Kind `json:"kind"`
	Size      int        `json:"size"`
	Nullable  bool       `json:"nullable"`
	IsPrimary bool       `json:"is_primary"`
}

type tableWire struct {
	OID         uuid.UUID    `json:"oid"`
	Name        string       `json:"name"`
	Columns     []columnWire `json:"columns"`
	FirstPageID page.ID      `json:"first_page_id"`
}

type indexWire struct {
	OID          uuid.UUID  `json:"oid"`
	Name         string     `json:"name"`
	Table        string     `json:"table"`
	Column       string     `json:"column"`
	KeyKind      types.Kind `json:"key_kind"`
	HeaderPageID page.ID    `json:"header_page_id"`
	Unique       bool       `json:"unique"`
}

// TableInfo is the catalog's in-memory view of one table.
type TableInfo struct {
	OID         uuid.UUID
	Name        string
	Schema      *types.Schema
	FirstPageID page.ID

	recordRID rid.RID
}

// IndexInfo is the catalog's in-memory view of one index.
type IndexInfo struct {
	OID          uuid.UUID
	Name         string
	Table        string
	Column       string
	KeyKind      types.Kind
	HeaderPageID page.ID
	Unique       bool

	recordRID rid.RID
}

// Catalog is the single source of truth for what tables and indexes exist
// and where their storage roots live. It is backed by its own table heap
// so it durably survives restarts through a buffer pool, like every other
// table.
type Catalog struct {
	mu      sync.RWMutex
	store   *heap.Heap
	tables  map[string]*TableInfo
	indexes map[string]*IndexInfo
}

// Create allocates a brand-new, empty catalog heap.
func Create(pool *buffer.Pool) (*Catalog, error) {
	store, err := heap.Create(pool)
	if err != nil {
		return nil, fmt.Errorf("catalog: create store: %w", err)
	}
	return &Catalog{
		store:   store,
		tables:  make(map[string]*TableInfo),
		indexes: make(map[string]*IndexInfo),
	}, nil
}

// Open reopens a catalog whose heap already starts at firstPageID,
// replaying its records to rebuild the in-memory name maps.
func Open(pool *buffer.Pool, firstPageID page.ID) (*Catalog, error) {
	store := heap.Open(pool, firstPageID)
	c := &Catalog{
		store:   store,
		tables:  make(map[string]*TableInfo),
		indexes: make(map[string]*IndexInfo),
	}
	it := store.Iter()
	for {
		r, data, ok, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("catalog: replay: %w", err)
		}
		if !ok {
			break
		}
		if err := c.replay(r, data); err != nil {
			return nil, fmt.Errorf("catalog: replay record %s: %w", r, err)
		}
	}
	return c, nil
}

// FirstPageID returns the catalog's own heap's first page, to be stashed
// wherever the kernel keeps its well-known bootstrap locations.
func (c *Catalog) FirstPageID() page.ID { return c.store.FirstPageID() }

func (c *Catalog) replay(r rid.RID, data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	switch rec.Kind {
	case kindTable:
		var w tableWire
		if err := json.Unmarshal(rec.Payload, &w); err != nil {
			return err
		}
		cols := make([]types.Column, len(w.Columns))
		for i, cw := range w.Columns {
			cols[i] = types.Column{Name: cw.Name, Kind: cw.Kind, Size: cw.Size, Nullable: cw.Nullable, IsPrimary: cw.IsPrimary}
		}
		schema, err := types.NewSchema(cols)
		if err != nil {
			return err
		}
		c.tables[w.Name] = &TableInfo{
			OID: w.OID, Name: w.Name, Schema: schema, FirstPageID: w.FirstPageID,
			recordRID: r,
		}
	case kindIndex:
		var w indexWire
		if err := json.Unmarshal(rec.Payload, &w); err != nil {
			return err
		}
		c.indexes[w.Name] = &IndexInfo{
			OID: w.OID, Name: w.Name, Table: w.Table, Column: w.Column,
			KeyKind: w.KeyKind, HeaderPageID: w.HeaderPageID, Unique: w.Unique,
			recordRID: r,
		}
	default:
		return fmt.Errorf("unknown catalog record kind %d", rec.Kind)
	}
	return nil
}

// CreateTable registers a new table, persisting its schema and heap root.
func (c *Catalog) CreateTable(name string, schema *types.Schema, firstPageID page.ID) (*TableInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.tables[name]; ok {
		return nil, fmt.Errorf("%w: table %q", ErrAlreadyExists, name)
	}

	cols := make([]columnWire, schema.Len())
	for i := 0; i < schema.Len(); i++ {
		col := schema.Column(i)
		cols[i] = columnWire{Name: col.Name, Kind: col.Kind, Size: col.Size, Nullable: col.Nullable, IsPrimary: col.IsPrimary}
	}
	oid := uuid.New()
	w := tableWire{OID: oid, Name: name, Columns: cols, FirstPageID: firstPageID}
	payload, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	rec, err := json.Marshal(record{Kind: kindTable, Payload: payload})
	if err != nil {
		return nil, err
	}
	r, err := c.store.Insert(rec)
	if err != nil {
		return nil, fmt.Errorf("catalog: persist table %q: %w", name, err)
	}
	info := &TableInfo{OID: oid, Name: name, Schema: schema, FirstPageID: firstPageID, recordRID: r}
	c.tables[name] = info
	return info, nil
}

// Table looks up a table by name.
func (c *Catalog) Table(name string) (*TableInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tables[name]
	return t, ok
}

// Tables returns every registered table, in no particular order.
func (c *Catalog) Tables() []*TableInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TableInfo, 0, len(c.tables))
	for _, t := range c.tables {
		out = append(out, t)
	}
	return out
}

// DropTable removes a table's catalog entry. It does not touch the
// table's own heap pages or any index built over it — the caller is
// responsible for tearing those down first.
func (c *Catalog) DropTable(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	if err := c.store.Delete(t.recordRID); err != nil {
		return err
	}
	delete(c.tables, name)
	return nil
}

// CreateIndex registers a new index over table/column.
func (c *Catalog) CreateIndex(name, table, column string, keyKind types.Kind, headerPageID page.ID, unique bool) (*IndexInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.indexes[name]; ok {
		return nil, fmt.Errorf("%w: index %q", ErrAlreadyExists, name)
	}
	oid := uuid.New()
	w := indexWire{OID: oid, Name: name, Table: table, Column: column, KeyKind: keyKind, HeaderPageID: headerPageID, Unique: unique}
	payload, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	rec, err := json.Marshal(record{Kind: kindIndex, Payload: payload})
	if err != nil {
		return nil, err
	}
	r, err := c.store.Insert(rec)
	if err != nil {
		return nil, fmt.Errorf("catalog: persist index %q: %w", name, err)
	}
	info := &IndexInfo{OID: oid, Name: name, Table: table, Column: column, KeyKind: keyKind, HeaderPageID: headerPageID, Unique: unique, recordRID: r}
	c.indexes[name] = info
	return info, nil
}

// Index looks up an index by name.
func (c *Catalog) Index(name string) (*IndexInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.indexes[name]
	return idx, ok
}

// IndexesForTable returns every index registered against table.
func (c *Catalog) IndexesForTable(table string) []*IndexInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*IndexInfo
	for _, idx := range c.indexes {
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out
}

// DropIndex removes an index's catalog entry. It does not free the
// B+Tree's own pages — the caller tears the tree down first.
func (c *Catalog) DropIndex(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexes[name]
	if !ok {
		return fmt.Errorf("%w: index %q", ErrNotFound, name)
	}
	if err := c.store.Delete(idx.recordRID); err != nil {
		return err
	}
	delete(c.indexes, name)
	return nil
}
