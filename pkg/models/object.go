package models

// Object is an ordered string-keyed map. Keys keep their first insertion
// position; a repeated key replaces the earlier value in place.
type Object struct {
	keys  []string
	vals  []Value
	index map[string]int
}

// Len returns the number of members.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	if o.index != nil {
		i, ok := o.index[key]
		if !ok {
			return Value{}, false
		}
		return o.vals[i], true
	}
	for i, k := range o.keys {
		if k == key {
			return o.vals[i], true
		}
	}
	return Value{}, false
}

// Keys returns the member names in order. The slice must not be modified.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// At returns the i-th member.
func (o *Object) At(i int) (string, Value) {
	return o.keys[i], o.vals[i]
}

// Range calls fn for each member in order until fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	if o == nil {
		return
	}
	for i, k := range o.keys {
		if !fn(k, o.vals[i]) {
			return
		}
	}
}

// small objects are scanned linearly, larger ones get an index
const objectIndexThreshold = 8

// ObjectBuilder accumulates members for a new Object.
type ObjectBuilder struct {
	obj *Object
}

// NewObjectBuilder returns a builder sized for n members.
func NewObjectBuilder(n int) *ObjectBuilder {
	return &ObjectBuilder{obj: &Object{
		keys: make([]string, 0, n),
		vals: make([]Value, 0, n),
	}}
}

// Set adds or replaces a member.
func (b *ObjectBuilder) Set(key string, v Value) *ObjectBuilder {
	o := b.obj
	if o.index != nil {
		if i, ok := o.index[key]; ok {
			o.vals[i] = v
			return b
		}
	} else {
		for i, k := range o.keys {
			if k == key {
				o.vals[i] = v
				return b
			}
		}
	}
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, v)
	if o.index != nil {
		o.index[key] = len(o.keys) - 1
	} else if len(o.keys) > objectIndexThreshold {
		o.index = make(map[string]int, len(o.keys)*2)
		for i, k := range o.keys {
			o.index[k] = i
		}
	}
	return b
}

// Build returns the finished object. The builder must not be used after.
func (b *ObjectBuilder) Build() *Object {
	o := b.obj
	b.obj = nil
	return o
}

// Obj is a shorthand for building an object value from alternating
// key/value pairs: Obj("a", Int(1), "b", String("x")).
func Obj(pairs ...interface{}) Value {
	if len(pairs)%2 != 0 {
		panic("models.Obj: odd number of arguments")
	}
	b := NewObjectBuilder(len(pairs) / 2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("models.Obj: key must be a string")
		}
		v, ok := pairs[i+1].(Value)
		if !ok {
			conv, err := FromAny(pairs[i+1])
			if err != nil {
				panic(err)
			}
			v = conv
		}
		b.Set(key, v)
	}
	return ObjectValue(b.Build())
}
