package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/roach88/lectern/internal/store"
)

// validIdentifier matches valid SQL identifiers (column names).
// Only allows alphanumeric and underscore, must start with letter or underscore.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// stateTables are the tables final_state may query.
var stateTables = map[string]bool{
	"books":         true,
	"sections":      true,
	"text_elements": true,
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", event.Seq, describe(event))
		}
	}
	return buf.String()
}

func describe(e TraceEvent) string {
	if e.Type == TraceStep {
		return "> " + e.Step
	}
	name := e.Command
	if e.Script != "" {
		name += ":" + e.Script
	}
	if len(e.Args) > 0 {
		name += " " + string(e.Args)
	}
	return name
}

// matchesCommand reports whether e is the named command. name may carry a
// script kind as "injectScript:<kind>"; script narrows further when set.
func matchesCommand(e TraceEvent, name, script string) bool {
	if e.Type != TraceCommand {
		return false
	}
	if cmd, kind, ok := strings.Cut(name, ":"); ok {
		name, script = cmd, kind
	}
	if e.Command != name {
		return false
	}
	return script == "" || e.Script == script
}

// assertCommandContains checks that a command with matching args (subset
// match) was sent.
func assertCommandContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchesCommand(event, assertion.Command, assertion.Script) && matchArgs(event.Args, assertion.Args) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertCommandContains,
		Expected: fmt.Sprintf("command %s with args %v", commandLabel(assertion), assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertCommandOrder checks that commands appear in the specified order.
// Commands don't need to be consecutive, and each entry matches the first
// occurrence after the previous entry's match.
func assertCommandOrder(trace []TraceEvent, assertion Assertion) error {
	pos := 0
	for _, name := range assertion.Commands {
		found := false
		for pos < len(trace) {
			event := trace[pos]
			pos++
			if matchesCommand(event, name, "") {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertCommandOrder,
				Expected: fmt.Sprintf("commands in order: %v", assertion.Commands),
				Actual:   fmt.Sprintf("no %s after the previous match", name),
				Trace:    trace,
			}
		}
	}
	return nil
}

// assertCommandCount checks that the command appears exactly the specified number of times.
func assertCommandCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchesCommand(event, assertion.Command, assertion.Script) {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertCommandCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, commandLabel(assertion)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func commandLabel(a Assertion) string {
	if a.Script != "" {
		return a.Command + ":" + a.Script
	}
	return a.Command
}

func assertPhase(result *Result, assertion Assertion) error {
	if result.Phase != assertion.Phase {
		return &AssertionError{
			Type:     AssertPhase,
			Expected: assertion.Phase,
			Actual:   result.Phase,
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertFinalState checks that exactly one row of the table matches Where
// and holds the Expect values. Values are always bound as parameters;
// table and column names are checked against a whitelist.
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	if !stateTables[assertion.Table] {
		return fmt.Errorf("invalid table name %q: must be one of books, sections, text_elements", assertion.Table)
	}

	whereSQL, whereArgs, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("SELECT * FROM %s", assertion.Table)
	if whereSQL != "" {
		query += " WHERE " + whereSQL
	}

	rows, err := st.DB().QueryContext(ctx, query, whereArgs...)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	if !rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "row not found",
		}
	}

	values := make([]any, len(columns))
	valuePtrs := make([]any, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}
	if err := rows.Scan(valuePtrs...); err != nil {
		return fmt.Errorf("scan row: %w", err)
	}

	if rows.Next() {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, formatWhereClause(assertion.Where)),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actualRow := make(map[string]any, len(columns))
	for i, col := range columns {
		actualRow[col] = values[i]
	}

	keys := sortedKeys(assertion.Expect)
	for _, key := range keys {
		expectedValue := assertion.Expect[key]
		actualValue, exists := actualRow[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, columns),
			}
		}
		if !stateValuesEqual(expectedValue, actualValue) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expectedValue, expectedValue),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, actualValue, actualValue),
			}
		}
	}
	return nil
}

// buildWhereClause constructs a parameterized WHERE clause. Keys are sorted
// for determinism.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		clauses = append(clauses, fmt.Sprintf("%s = ?", key))
		args = append(args, where[key])
	}
	return strings.Join(clauses, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares expected YAML values with SQLite values.
// SQLite returns int64 for integers, float64 for reals, and stores
// booleans as 0/1.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}

	if exp, ok := toFloat(expected); ok {
		act, ok := toFloat(actual)
		return ok && math.Abs(exp-act) < 1e-9
	}

	switch exp := expected.(type) {
	case bool:
		act, ok := toFloat(actual)
		return ok && exp == (act != 0)
	case string:
		act, ok := actual.(string)
		return ok && exp == act
	case []any, map[string]any:
		// JSON columns (sections_percentages, initial_locations).
		s, ok := actual.(string)
		if !ok {
			return false
		}
		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return false
		}
		return valuesEqual(decoded, expected)
	}
	return reflect.DeepEqual(expected, actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// matchArgs checks if actual args contain all expected args (subset match).
// Extra keys in actual are ignored.
func matchArgs(actual json.RawMessage, expected map[string]any) bool {
	if len(expected) == 0 {
		return true
	}
	var actualMap map[string]any
	if err := json.Unmarshal(actual, &actualMap); err != nil {
		return false
	}
	for key, expectedVal := range expected {
		actualVal, exists := actualMap[key]
		if !exists || !valuesEqual(actualVal, expectedVal) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values after normalizing both through JSON, so
// YAML ints and JSON floats compare equal.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// AssertionContext provides context for evaluating assertions.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// The actx parameter provides database access for final_state assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertPhase:
			err = assertPhase(result, assertion)
		case AssertCommandContains:
			err = assertCommandContains(result.Trace, assertion)
		case AssertCommandOrder:
			err = assertCommandOrder(result.Trace, assertion)
		case AssertCommandCount:
			err = assertCommandCount(result.Trace, assertion)
		case AssertFinalState:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: final_state requires database context", i)
			} else {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
