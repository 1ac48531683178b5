package models

// Visitor handles each variant of a Value. Implementations that miss a
// variant fail to compile, which is the point of routing dispatch through
// Visit instead of ad hoc kind switches.
type Visitor[T any] interface {
	VisitNull() T
	VisitBool(b bool) T
	VisitNumber(n Number) T
	VisitString(s string) T
	VisitObject(o *Object) T
	VisitArray(items []Value) T
}

// Visit dispatches v to the matching Visitor method.
func Visit[T any](v Value, vis Visitor[T]) T {
	switch v.kind {
	case KindBool:
		return vis.VisitBool(v.b)
	case KindNumber:
		return vis.VisitNumber(Number(v.s))
	case KindString:
		return vis.VisitString(v.s)
	case KindObject:
		return vis.VisitObject(v.obj)
	case KindArray:
		return vis.VisitArray(v.arr)
	default:
		return vis.VisitNull()
	}
}
