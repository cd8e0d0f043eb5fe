package value

// Table is the hybrid array+hash table: dense positive-integer keys
// from 1..n live in arr, everything else (other integers, floats,
// strings, booleans, tables, functions) lives in the hash part m.
// Grounded on original_source/src/state/lua_table.rs.
type Table struct {
	arr []Value
	m   map[hashKey]Value
}

// NewTable creates an empty table, optionally pre-sizing the array
// part (narr) and hash part (nrec) the way the loader's NEWTABLE
// opcode hints sizes.
func NewTable(narr, nrec int) *Table {
	t := &Table{}
	if narr > 0 {
		t.arr = make([]Value, 0, narr)
	}
	if nrec > 0 {
		t.m = make(map[hashKey]Value, nrec)
	}
	return t
}

// toArrayIndex reports whether v is a Value holding an integer (or an
// integral float) usable as an array-part index, returning it.
func toArrayIndex(v Value) (int64, bool) {
	switch v.Tag {
	case TagInteger:
		return v.i, true
	case TagFloat:
		return floatToInteger(v.f)
	}
	return 0, false
}

// Len returns the table's border: the length of the dense array part.
// Matches lua_table.rs's len(), which never inspects the hash part.
func (t *Table) Len() int64 {
	return int64(len(t.arr))
}

// Get looks up key, returning Nil if absent. A NaN key always misses.
func (t *Table) Get(key Value) Value {
	if key.IsNaN() {
		return Nil
	}
	if idx, ok := toArrayIndex(key); ok && idx >= 1 && int(idx) <= len(t.arr) {
		return t.arr[idx-1]
	}
	if t.m == nil {
		return Nil
	}
	if v, ok := t.m[key.hashKey()]; ok {
		return v
	}
	return Nil
}

// Set stores val at key. A nil or NaN key is rejected by the caller
// (the opcode dispatcher / host API raise TableError); Set itself
// only implements the storage and array/hash migration policy.
func (t *Table) Set(key, val Value) {
	if idx, ok := toArrayIndex(key); ok && idx >= 1 {
		n := int64(len(t.arr))
		switch {
		case idx <= n:
			t.arr[idx-1] = val
			if val.IsNil() && idx == n {
				t.shrinkArray()
			}
			return
		case idx == n+1:
			if val.IsNil() {
				return
			}
			t.arr = append(t.arr, val)
			t.expandArray()
			return
		}
	}
	if val.IsNil() {
		if t.m != nil {
			delete(t.m, key.hashKey())
		}
		return
	}
	if t.m == nil {
		t.m = make(map[hashKey]Value)
	}
	t.m[key.hashKey()] = val
}

// expandArray migrates contiguous integer keys sitting in the hash
// part into the array part after an append grows the border,
// mirroring lua_table.rs's expand_array.
func (t *Table) expandArray() {
	if t.m == nil {
		return
	}
	for {
		next := int64(len(t.arr)) + 1
		k := Integer(next).hashKey()
		v, ok := t.m[k]
		if !ok {
			return
		}
		delete(t.m, k)
		t.arr = append(t.arr, v)
	}
}

// shrinkArray trims trailing nils off the array part back into a
// shorter border, mirroring lua_table.rs's shrink_array.
func (t *Table) shrinkArray() {
	n := len(t.arr)
	for n > 0 && t.arr[n-1].IsNil() {
		n--
	}
	t.arr = t.arr[:n]
}
