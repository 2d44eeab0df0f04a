package types

import "testing"

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := NewSchema([]Column{
		{Name: "id", Kind: KindI64, IsPrimary: true},
		{Name: "name", Kind: KindString, Size: 64, Nullable: true},
		{Name: "score", Kind: KindF64},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestTupleRoundTrip(t *testing.T) {
	schema := testSchema(t)
	tup, err := NewTuple(schema, []Value{I64(42), String("alice"), F64(3.5)})
	if err != nil {
		t.Fatalf("NewTuple: %v", err)
	}
	buf, err := EncodeTuple(schema, tup)
	if err != nil {
		t.Fatalf("EncodeTuple: %v", err)
	}
	if len(buf) != EncodedSize(schema, tup) {
		t.Fatalf("EncodedSize mismatch: got %d want %d", EncodedSize(schema, tup), len(buf))
	}
	got, err := DecodeTuple(schema, buf)
	if err != nil {
		t.Fatalf("DecodeTuple: %v", err)
	}
	if got.Values[0].AsInt() != 42 || got.Values[1].AsString() != "alice" || got.Values[2].AsFloat() != 3.5 {
		t.Fatalf("round trip mismatch: %+v", got.Values)
	}
}

func TestTupleNullRoundTrip(t *testing.T) {
	schema := testSchema(t)
	tup, err := NewTuple(schema, []Value{I64(1), Null(KindString), F64(0)})
	if err != nil {
		t.Fatalf("NewTuple: %v", err)
	}
	buf, err := EncodeTuple(schema, tup)
	if err != nil {
		t.Fatalf("EncodeTuple: %v", err)
	}
	got, err := DecodeTuple(schema, buf)
	if err != nil {
		t.Fatalf("DecodeTuple: %v", err)
	}
	if !got.Values[1].IsNull {
		t.Fatalf("expected column 1 to be null, got %+v", got.Values[1])
	}
}

func TestNewTupleRejectsNonNullableNull(t *testing.T) {
	schema := testSchema(t)
	if _, err := NewTuple(schema, []Value{Null(KindI64), String("x"), F64(0)}); err == nil {
		t.Fatal("expected error inserting null into non-nullable primary key column")
	}
}

func TestCompareOrdersNullsFirst(t *testing.T) {
	if Compare(Null(KindI32), I32(0)) >= 0 {
		t.Fatal("null should sort before any non-null value")
	}
	if Compare(I32(1), I32(2)) >= 0 {
		t.Fatal("1 should compare less than 2")
	}
}
