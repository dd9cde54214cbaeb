package main

import (
	"github.com/matthewbaird/schemacanvas/internal/gateway"
	"github.com/matthewbaird/schemacanvas/internal/types"
)

const demoProject = "demo"

func intPtr(n int) *int { return &n }

// demoGateway returns an in-process backend holding a small shop schema.
// Review.product_id points at a model that does not exist.
func demoGateway() *gateway.Memory {
	gw := gateway.NewMemory()
	gw.Seed(demoProject, []types.Model{
		{ID: "1", Name: "Customer", Description: "People who buy things", Fields: []types.Field{
			{ID: "2", Name: "id", FieldType: types.FieldInteger, Unique: true},
			{ID: "3", Name: "email", FieldType: types.FieldEmail, MaxLength: intPtr(254), Unique: true},
			{ID: "4", Name: "name", FieldType: types.FieldChar, MaxLength: intPtr(120), Order: 2},
		}},
		{ID: "5", Name: "Order", Order: 1, Fields: []types.Field{
			{ID: "6", Name: "id", FieldType: types.FieldInteger, Unique: true},
			{ID: "7", Name: "customer_id", FieldType: types.FieldInteger, Order: 1,
				RelationshipData: &types.RelationshipData{
					RelationshipType: types.OneToMany,
					References:       types.Reference{Model: "Customer", Field: "id"},
				}},
			{ID: "8", Name: "placed_at", FieldType: types.FieldDateTime, Order: 2},
			{ID: "9", Name: "total", FieldType: types.FieldDecimal, Order: 3},
		}},
		{ID: "10", Name: "Review", Order: 2, Fields: []types.Field{
			{ID: "11", Name: "id", FieldType: types.FieldInteger, Unique: true},
			{ID: "12", Name: "order_id", FieldType: types.FieldInteger, Order: 1,
				RelationshipData: &types.RelationshipData{
					RelationshipType: types.OneToOne,
					References:       types.Reference{Model: "Order", Field: "id"},
				}},
			{ID: "13", Name: "product_id", FieldType: types.FieldInteger, Order: 2,
				RelationshipData: &types.RelationshipData{
					RelationshipType: types.OneToMany,
					References:       types.Reference{Model: "Product", Field: "id"},
				}},
			{ID: "14", Name: "body", FieldType: types.FieldText, Null: true, Blank: true, Order: 3},
		}},
	})
	return gw
}
