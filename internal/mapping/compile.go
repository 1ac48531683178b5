package mapping

import (
	"errors"
	"fmt"
	"sort"

	"github.com/basekick-labs/rowhouse/internal/fieldpath"
)

var (
	// ErrDuplicateAlias is returned when two fields of a table share an alias.
	ErrDuplicateAlias = errors.New("duplicate column alias")
	// ErrReservedAlias is returned when an alias collides with a metadata column.
	ErrReservedAlias = errors.New("alias collides with metadata column")
	// ErrEmptyTable is returned for tables without a name or without fields.
	ErrEmptyTable = errors.New("table has no name or no fields")
	// ErrUnknownColumn is returned when a unique key names no declared column.
	ErrUnknownColumn = errors.New("unknown column")
)

// Column is a compiled field: parsed path, resolved type and coercion mode,
// and the slot index it occupies in every row.
type Column struct {
	Slot  int
	Alias string
	// ConfiguredAlias is the alias as written, before normalization.
	ConfiguredAlias string
	Source          string
	Path            fieldpath.Path
	Type            Type
	DeclaredType    string
	// KnownType is false when DeclaredType was not recognized and the
	// column falls back to string.
	KnownType bool
	Lenient   bool
	Required  bool
}

// Node is one step of the compiled path trie. Children keep the order in
// which their keys first appear in the field list.
type Node struct {
	Key string
	// Explode is set when a field continuing below this node marks this
	// segment as an array explosion.
	Explode bool
	// Leaves are the slots of fields whose path ends at this node.
	Leaves   []int
	Children []*Node
	index    map[string]int
}

// IsBranch reports whether fields continue below this node.
func (n *Node) IsBranch() bool { return len(n.Children) > 0 }

func (n *Node) child(key string) *Node {
	if n.index == nil {
		n.index = make(map[string]int)
	}
	if i, ok := n.index[key]; ok {
		return n.Children[i]
	}
	c := &Node{Key: key}
	n.index[key] = len(n.Children)
	n.Children = append(n.Children, c)
	return c
}

// Table is the compiled, immutable form of a TableConfig.
type Table struct {
	Discriminator string
	Name          string
	Columns       []Column
	// Unique lists the columns of the table's unique key, if any.
	Unique []string
	root   *Node
	slots  map[string]int
}

// Root returns the trie root; its children are the distinct first segments.
func (t *Table) Root() *Node { return t.root }

// Width is the number of declared columns.
func (t *Table) Width() int { return len(t.Columns) }

// SlotOf returns the slot assigned to alias.
func (t *Table) SlotOf(alias string) (int, bool) {
	i, ok := t.slots[alias]
	return i, ok
}

// Renamed returns configured alias -> column name for every alias that
// normalization changed.
func (t *Table) Renamed() map[string]string {
	out := make(map[string]string)
	for _, c := range t.Columns {
		if c.ConfiguredAlias != c.Alias {
			out[c.ConfiguredAlias] = c.Alias
		}
	}
	return out
}

// Aliases returns the column names in declared order.
func (t *Table) Aliases() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Alias
	}
	return out
}

// CompileOptions control Compile.
type CompileOptions struct {
	// DefaultCoerce is the global lenient-coercion default.
	DefaultCoerce bool
	// Reserved lists column names fields may not use (metadata columns).
	Reserved []string
	// NormalizeAliases rewrites aliases with NormalizeName before they are
	// checked and used as column names.
	NormalizeAliases bool
}

// CompileTable validates tc and builds its path trie.
func CompileTable(discriminator string, tc TableConfig, opts CompileOptions) (*Table, error) {
	if tc.TableName == "" || len(tc.Fields) == 0 {
		return nil, fmt.Errorf("table %q: %w", discriminator, ErrEmptyTable)
	}
	reserved := make(map[string]struct{}, len(opts.Reserved))
	for _, r := range opts.Reserved {
		reserved[r] = struct{}{}
	}

	t := &Table{
		Discriminator: discriminator,
		Name:          tc.TableName,
		Columns:       make([]Column, 0, len(tc.Fields)),
		root:          &Node{},
		slots:         make(map[string]int, len(tc.Fields)),
	}
	for i, f := range tc.Fields {
		alias := f.Alias
		if opts.NormalizeAliases {
			alias = NormalizeName(alias)
		}
		if alias == "" {
			return nil, fmt.Errorf("table %q field %d: %w: empty alias", tc.TableName, i, fieldpath.ErrInvalidFieldSpec)
		}
		if prev, dup := t.slots[alias]; dup {
			if configured := t.Columns[prev].ConfiguredAlias; configured != f.Alias {
				return nil, fmt.Errorf("table %q: %w: %q and %q both normalize to %s",
					tc.TableName, ErrDuplicateAlias, configured, f.Alias, alias)
			}
			return nil, fmt.Errorf("table %q: %w: %s", tc.TableName, ErrDuplicateAlias, alias)
		}
		if _, bad := reserved[alias]; bad {
			return nil, fmt.Errorf("table %q: %w: %s", tc.TableName, ErrReservedAlias, alias)
		}
		path, err := fieldpath.Parse(f.Source)
		if err != nil {
			return nil, fmt.Errorf("table %q field %q: %w", tc.TableName, f.Alias, err)
		}
		typ, known := ParseType(f.Type)
		col := Column{
			Slot:            i,
			Alias:           alias,
			ConfiguredAlias: f.Alias,
			Source:          f.Source,
			Path:            path,
			Type:            typ,
			DeclaredType:    f.Type,
			KnownType:       known,
			Lenient:         ResolveCoerce(f.Coerce, tc.Coerce, opts.DefaultCoerce),
			Required:        f.Required,
		}
		t.Columns = append(t.Columns, col)
		t.slots[alias] = i
		t.insert(path, i)
	}

	for _, name := range tc.Unique {
		if opts.NormalizeAliases {
			name = NormalizeName(name)
		}
		if _, ok := t.slots[name]; !ok {
			return nil, fmt.Errorf("table %q unique key: %w: %s", tc.TableName, ErrUnknownColumn, name)
		}
		t.Unique = append(t.Unique, name)
	}
	return t, nil
}

func (t *Table) insert(path fieldpath.Path, slot int) {
	n := t.root
	for depth, seg := range path {
		n = n.child(seg.Key)
		if depth == len(path)-1 {
			n.Leaves = append(n.Leaves, slot)
		} else if seg.Explode {
			n.Explode = true
		}
	}
}

// Mapping is a compiled Config.
type Mapping struct {
	tables map[string]*Table
	order  []string
}

// Compile compiles every table in cfg. Discriminators are ordered
// lexically so iteration is deterministic.
func Compile(cfg Config, opts CompileOptions) (*Mapping, error) {
	m := &Mapping{tables: make(map[string]*Table, len(cfg))}
	for disc := range cfg {
		m.order = append(m.order, disc)
	}
	sort.Strings(m.order)
	for _, disc := range m.order {
		t, err := CompileTable(disc, cfg[disc], opts)
		if err != nil {
			return nil, err
		}
		m.tables[disc] = t
	}
	return m, nil
}

// Table returns the table configured for discriminator.
func (m *Mapping) Table(discriminator string) (*Table, bool) {
	t, ok := m.tables[discriminator]
	return t, ok
}

// Discriminators returns the configured discriminator values.
func (m *Mapping) Discriminators() []string { return m.order }

// Len is the number of tables.
func (m *Mapping) Len() int { return len(m.order) }
