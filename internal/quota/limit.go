package quota

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Limit is a nullable non-negative bound. The unlimited state is
// represented by Valid=false and serializes as JSON null.
type Limit struct {
	Value int64
	Valid bool
}

// Unlimited returns the null limit.
func Unlimited() Limit {
	return Limit{}
}

// L returns a finite limit.
func L(v int64) Limit {
	return Limit{Value: v, Valid: true}
}

// Allows reports whether n fits under the limit. An unlimited limit
// allows everything.
func (l Limit) Allows(n int64) bool {
	return !l.Valid || n <= l.Value
}

// Add computes l+delta for add_quota. An unlimited limit absorbs any
// delta and stays unlimited; a finite result below zero is an error.
func (l Limit) Add(delta int64) (Limit, error) {
	if !l.Valid {
		return l, nil
	}
	v := l.Value + delta
	if v < 0 {
		return Limit{}, fmt.Errorf("limit %d%+d is negative", l.Value, delta)
	}
	return L(v), nil
}

func (l Limit) String() string {
	if !l.Valid {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.Value)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if !l.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(l.Value)
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*l = Limit{}
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("limit must not be negative: %d", v)
	}
	*l = L(v)
	return nil
}
