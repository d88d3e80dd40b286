package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/metasync/metasync/internal/sqlexec"
)

// epochMillis is the default for created_at and updated_at.
const epochMillis = "(extract(epoch from now()) * 1000)::bigint"

func ident(parts ...string) string {
	return pgx.Identifier(parts).Sanitize()
}

func literal(s string) string {
	return pq.QuoteLiteral(s)
}

// typeAliases maps shorthand type names to the names format_type reports.
var typeAliases = map[string]string{
	"int":         "integer",
	"int4":        "integer",
	"serial":      "integer",
	"serial4":     "integer",
	"int8":        "bigint",
	"bigserial":   "bigint",
	"serial8":     "bigint",
	"int2":        "smallint",
	"smallserial": "smallint",
	"serial2":     "smallint",
	"bool":        "boolean",
	"float4":      "real",
	"float8":      "double precision",
	"float":       "double precision",
	"double":      "double precision",
	"decimal":     "numeric",
	"varchar":     "character varying",
	"char":        "character",
	"bpchar":      "character",
	"varbit":      "bit varying",
	"timestamptz": "timestamp with time zone",
	"timestamp":   "timestamp without time zone",
	"timetz":      "time with time zone",
	"time":        "time without time zone",
}

var serialTypes = map[string]bool{
	"serial": true, "serial2": true, "serial4": true, "serial8": true,
	"smallserial": true, "bigserial": true,
}

var (
	spaces   = regexp.MustCompile(`\s+`)
	modifier = regexp.MustCompile(`\([^)]*\)`)
)

// splitType lowercases t and splits it into base name, type modifier and
// array suffix: "Timestamp(3) WITH TIME ZONE[]" is
// ("timestamp with time zone", "(3)", "[]").
func splitType(t string) (base, mod, suffix string) {
	t = strings.ToLower(strings.TrimSpace(spaces.ReplaceAllString(t, " ")))
	for strings.HasSuffix(t, "[]") {
		t = strings.TrimSpace(strings.TrimSuffix(t, "[]"))
		suffix += "[]"
	}
	if loc := modifier.FindStringIndex(t); loc != nil {
		mod = strings.ReplaceAll(t[loc[0]:loc[1]], " ", "")
		t = t[:loc[0]] + " " + t[loc[1]:]
	}
	return strings.TrimSpace(spaces.ReplaceAllString(t, " ")), mod, suffix
}

// NormalizeType lowercases a type name and resolves aliases so a declared
// type can be compared with what format_type reports.
func NormalizeType(t string) string {
	base, mod, suffix := splitType(t)

	if base == "float" && mod != "" {
		// float(p) is real up to 24 bits of precision.
		p, err := strconv.Atoi(strings.Trim(mod, "()"))
		base, mod = "double precision", ""
		if err == nil && p <= 24 {
			base = "real"
		}
	}
	if alias, ok := typeAliases[base]; ok {
		base = alias
	}
	// format_type puts the precision of time types after the first word.
	if mod != "" && (strings.HasPrefix(base, "timestamp ") || strings.HasPrefix(base, "time ")) {
		first, rest, _ := strings.Cut(base, " ")
		return first + mod + " " + rest + suffix
	}
	return base + mod + suffix
}

func isIntegerType(t string) bool {
	switch NormalizeType(t) {
	case "integer", "bigint", "smallint":
		return true
	}
	return false
}

var typePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_ ,.()\[\]"]*$`)

func validType(t string) error {
	if !typePattern.MatchString(strings.TrimSpace(t)) {
		return fmt.Errorf("invalid column type %q", t)
	}
	return nil
}

func cascadeClause(cascade bool) string {
	if cascade {
		return " CASCADE"
	}
	return ""
}

// dollarQuote wraps body in a dollar-quoted string whose tag does not
// occur in body.
func dollarQuote(body string) string {
	tag := "$fn$"
	for i := 1; strings.Contains(body, tag); i++ {
		tag = fmt.Sprintf("$fn%d$", i)
	}
	return tag + "\n" + strings.Trim(body, "\n") + "\n" + tag
}

func (t Table) validate() error {
	if t.IDType == "" {
		return nil
	}
	if err := validType(t.IDType); err != nil {
		return fmt.Errorf("table %s.%s: %w", t.Schema, t.Name, err)
	}
	return nil
}

func (t Table) idColumn() (string, string) {
	name, typ := t.IDColumn, t.IDType
	if name == "" {
		name = "id"
	}
	if typ == "" {
		typ = "uuid"
	}
	return name, typ
}

func createTableSQL(t Table) string {
	name, typ := t.idColumn()

	var id string
	switch {
	case NormalizeType(typ) == "uuid":
		id = fmt.Sprintf("%s uuid PRIMARY KEY DEFAULT gen_random_uuid()", ident(name))
	case isIntegerType(typ):
		id = fmt.Sprintf("%s %s GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY", ident(name), NormalizeType(typ))
	default:
		id = fmt.Sprintf("%s %s PRIMARY KEY", ident(name), typ)
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s,\n  %s bigint NOT NULL DEFAULT %s,\n  %s bigint NOT NULL DEFAULT %s\n)",
		ident(t.Schema, t.Name), id,
		ident("created_at"), epochMillis,
		ident("updated_at"), epochMillis,
	)
}

func addTimestampsSQL(t Table) string {
	return fmt.Sprintf("ALTER TABLE %s\n  ADD COLUMN IF NOT EXISTS %s bigint NOT NULL DEFAULT %s,\n  ADD COLUMN IF NOT EXISTS %s bigint NOT NULL DEFAULT %s",
		ident(t.Schema, t.Name),
		ident("created_at"), epochMillis,
		ident("updated_at"), epochMillis,
	)
}

func addColumnSQL(c Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD COLUMN %s %s", ident(c.Schema, c.Table), ident(c.Name), strings.TrimSpace(c.Type))
	if c.Unique {
		b.WriteString(" UNIQUE")
	}
	if p := strings.TrimSpace(c.Postfix); p != "" {
		b.WriteString(" " + p)
	}
	return b.String()
}

func dropColumnSQL(c Column, cascade bool) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s%s", ident(c.Schema, c.Table), ident(c.Name), cascadeClause(cascade))
}

func commentColumnSQL(c Column) string {
	comment := "NULL"
	if c.Comment != "" {
		comment = literal(c.Comment)
	}
	return fmt.Sprintf("COMMENT ON COLUMN %s IS %s", ident(c.Schema, c.Table, c.Name), comment)
}

var (
	defaultClause  = regexp.MustCompile(`(?i)\bDEFAULT\s+`)
	clauseStart    = regexp.MustCompile(`(?i)\s+(NOT\s+NULL|NULL|CHECK|REFERENCES|UNIQUE|PRIMARY\s+KEY|CONSTRAINT|COLLATE|GENERATED)\b`)
	notNullClause  = regexp.MustCompile(`(?i)\b(NOT\s+NULL|PRIMARY\s+KEY)\b`)
	generatedWords = regexp.MustCompile(`(?i)\bGENERATED\b`)
)

// columnAttrs is the part of a column's postfix that is converged in place.
type columnAttrs struct {
	notNull   bool
	def       string // empty for no default
	generated bool
}

// maskQuoted blanks the inside of single-quoted literals so keywords in
// string defaults are not mistaken for clauses. Offsets are preserved.
func maskQuoted(s string) string {
	b := []byte(s)
	in := false
	for i, c := range b {
		switch {
		case c == '\'':
			in = !in
		case in:
			b[i] = 'x'
		}
	}
	return string(b)
}

func parsePostfix(postfix string) columnAttrs {
	p := strings.TrimSpace(postfix)
	masked := maskQuoted(p)
	var a columnAttrs
	a.generated = generatedWords.MatchString(masked)

	if loc := defaultClause.FindStringIndex(masked); loc != nil {
		end := len(p)
		if next := clauseStart.FindStringIndex(masked[loc[1]:]); next != nil {
			end = loc[1] + next[0]
		}
		a.def = strings.TrimSpace(p[loc[1]:end])
		if strings.EqualFold(a.def, "null") {
			a.def = ""
		}
		masked = masked[:loc[0]] + strings.Repeat(" ", end-loc[0]) + masked[end:]
	}
	a.notNull = notNullClause.MatchString(masked)
	return a
}

// existingColumn is what columnExistsSQL reports about a column.
type existingColumn struct {
	fullType   string
	notNull    bool
	hasDefault bool
	unique     string // name of a single-column unique constraint
}

func existingColumnFrom(rec map[string]string) existingColumn {
	return existingColumn{
		fullType:   rec["full_type"],
		notNull:    sqlexec.Bool(rec["not_null"]),
		hasDefault: sqlexec.Bool(rec["has_default"]),
		unique:     rec["unique_constraint"],
	}
}

func uniqueConstraintName(c Column) string {
	return c.Table + "_" + c.Name + "_key"
}

// alterColumnSQL converges cur toward c without dropping the column. A
// changed type is converted with a cast of the existing values.
func alterColumnSQL(c Column, cur existingColumn) []string {
	tbl, col := ident(c.Schema, c.Table), ident(c.Name)
	alter := func(clause string, args ...any) string {
		return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s ", tbl, col) + fmt.Sprintf(clause, args...)
	}
	want := parsePostfix(c.Postfix)
	base, _, _ := splitType(c.Type)
	keepDefault := want.generated || (want.def == "" && serialTypes[base])

	var stmts []string
	hasDefault := cur.hasDefault
	if NormalizeType(cur.fullType) != NormalizeType(c.Type) {
		t := strings.TrimSpace(c.Type)
		if hasDefault && !keepDefault {
			stmts = append(stmts, alter("DROP DEFAULT"))
			hasDefault = false
		}
		stmts = append(stmts, alter("TYPE %s USING %s::%s", t, col, t))
	}

	switch {
	case keepDefault:
	case want.def != "":
		stmts = append(stmts, alter("SET DEFAULT %s", want.def))
	case hasDefault:
		stmts = append(stmts, alter("DROP DEFAULT"))
	}

	if want.notNull != cur.notNull {
		if want.notNull {
			stmts = append(stmts, alter("SET NOT NULL"))
		} else {
			stmts = append(stmts, alter("DROP NOT NULL"))
		}
	}

	switch {
	case c.Unique && cur.unique == "":
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s UNIQUE (%s)", tbl, ident(uniqueConstraintName(c)), col))
	case !c.Unique && cur.unique != "":
		stmts = append(stmts, dropConstraintSQL(c.Schema, c.Table, cur.unique, false))
	}

	return append(stmts, commentColumnSQL(c))
}

func functionSQL(f Function, orReplace bool) string {
	verb := "CREATE"
	if orReplace {
		verb = "CREATE OR REPLACE"
	}
	lang := f.Language
	if lang == "" {
		lang = "plpgsql"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s FUNCTION %s(%s)\nRETURNS %s\nLANGUAGE %s", verb, ident(f.Schema, f.Name), f.Arguments, f.Returns, lang)
	if f.Volatility != "" {
		b.WriteString(" " + strings.ToUpper(f.Volatility))
	}
	b.WriteString("\nAS " + dollarQuote(f.Body))
	return b.String()
}

var (
	validTimings = map[string]bool{"BEFORE": true, "AFTER": true, "INSTEAD OF": true}
	validEvents  = map[string]bool{"INSERT": true, "UPDATE": true, "DELETE": true, "TRUNCATE": true}
)

func (t Trigger) validate() error {
	if !validTimings[strings.ToUpper(t.Timing)] {
		return fmt.Errorf("trigger %s: invalid timing %q", t.Name, t.Timing)
	}
	if len(t.Events) == 0 {
		return fmt.Errorf("trigger %s: no events", t.Name)
	}
	for _, e := range t.Events {
		if !validEvents[strings.ToUpper(e)] {
			return fmt.Errorf("trigger %s: invalid event %q", t.Name, e)
		}
	}
	switch strings.ToUpper(t.ForEach) {
	case "", "ROW", "STATEMENT":
	default:
		return fmt.Errorf("trigger %s: invalid for_each %q", t.Name, t.ForEach)
	}
	if t.Function == "" {
		return fmt.Errorf("trigger %s: no function", t.Name)
	}
	return nil
}

func createTriggerSQL(t Trigger) string {
	events := make([]string, len(t.Events))
	for i, e := range t.Events {
		events[i] = strings.ToUpper(e)
	}
	forEach := strings.ToUpper(t.ForEach)
	if forEach == "" {
		forEach = "ROW"
	}
	fnSchema := t.FunctionSchema
	if fnSchema == "" {
		fnSchema = t.Schema
	}
	return fmt.Sprintf("CREATE TRIGGER %s %s %s ON %s FOR EACH %s EXECUTE FUNCTION %s()",
		ident(t.Name), strings.ToUpper(t.Timing), strings.Join(events, " OR "),
		ident(t.Schema, t.Table), forEach, ident(fnSchema, t.Function))
}

func dropTriggerSQL(t Trigger, ifExists, cascade bool) string {
	guard := ""
	if ifExists {
		guard = "IF EXISTS "
	}
	return fmt.Sprintf("DROP TRIGGER %s%s ON %s%s", guard, ident(t.Name), ident(t.Schema, t.Table), cascadeClause(cascade))
}

var fkActions = map[string]string{
	"":            "",
	"no action":   "NO ACTION",
	"no_action":   "NO ACTION",
	"restrict":    "RESTRICT",
	"cascade":     "CASCADE",
	"set null":    "SET NULL",
	"set_null":    "SET NULL",
	"set default": "SET DEFAULT",
	"set_default": "SET DEFAULT",
}

func fkAction(a string) (string, error) {
	action, ok := fkActions[strings.ToLower(strings.TrimSpace(a))]
	if !ok {
		return "", fmt.Errorf("invalid foreign key action %q", a)
	}
	return action, nil
}

func addForeignKeySQL(fk ForeignKey) (string, error) {
	onDelete, err := fkAction(fk.OnDelete)
	if err != nil {
		return "", err
	}
	onUpdate, err := fkAction(fk.OnUpdate)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		ident(fk.From.Schema, fk.From.Table), ident(fk.ConstraintName()), ident(fk.From.Column),
		ident(fk.To.Schema, fk.To.Table), ident(fk.To.Column))
	if onDelete != "" {
		b.WriteString(" ON DELETE " + onDelete)
	}
	if onUpdate != "" {
		b.WriteString(" ON UPDATE " + onUpdate)
	}
	return b.String(), nil
}

func dropConstraintSQL(schema, table, name string, cascade bool) string {
	return fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s%s", ident(schema, table), ident(name), cascadeClause(cascade))
}
