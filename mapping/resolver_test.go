package mapping

import (
	"reflect"
	"testing"
)

func TestGet_NestedPath(t *testing.T) {
	ctx := map[string]interface{}{
		"client": map[string]interface{}{
			"contact_name": "Ana",
			"address": map[string]interface{}{
				"city": "Montevideo",
			},
		},
	}

	v, ok := Get(ctx, "client.contact_name")
	if !ok || v != "Ana" {
		t.Fatalf("expected Ana, got %v (ok=%v)", v, ok)
	}
	v, ok = Get(ctx, "client.address.city")
	if !ok || v != "Montevideo" {
		t.Fatalf("expected Montevideo, got %v (ok=%v)", v, ok)
	}
}

func TestGet_MissingIntermediateKeyIsAbsentNotPanic(t *testing.T) {
	ctx := map[string]interface{}{
		"client": map[string]interface{}{"name": "Ana"},
	}

	if _, ok := Get(ctx, "order.number"); ok {
		t.Fatal("expected absent for missing intermediate key")
	}
	if _, ok := Get(ctx, "client.name.deeper"); ok {
		t.Fatal("expected absent when traversing through a scalar")
	}
	if _, ok := Get(nil, "client.name"); ok {
		t.Fatal("expected absent for nil context")
	}
	if _, ok := Get(ctx, ""); ok {
		t.Fatal("expected absent for empty path")
	}
}

func TestSet_CreatesIntermediateContainers(t *testing.T) {
	out := map[string]interface{}{}
	Set(out, "customer.name", "Ana")
	Set(out, "customer.tax.id", "219999830019")

	want := map[string]interface{}{
		"customer": map[string]interface{}{
			"name": "Ana",
			"tax":  map[string]interface{}{"id": "219999830019"},
		},
	}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestSet_LastWriteWinsOnOverlappingPaths(t *testing.T) {
	out := map[string]interface{}{}
	Set(out, "customer.name", "Ana")
	Set(out, "customer.name", "Beatriz")

	customer := out["customer"].(map[string]interface{})
	if customer["name"] != "Beatriz" {
		t.Fatalf("expected last write to win, got %v", customer["name"])
	}
}
