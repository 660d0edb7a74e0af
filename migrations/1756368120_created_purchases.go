package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_purchases",
			"name": "purchases",
			"type": "base",
			"system": false,
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null,
			"indexes": [
				"CREATE INDEX idx_purchases_ticket ON purchases (ticket_id, outcome)",
				"CREATE INDEX idx_purchases_buyer ON purchases (buyer_ref)"
			],
			"fields": [
				{
					"autogeneratePattern": "[a-z0-9]{15}",
					"hidden": false,
					"id": "text_pu_id",
					"max": 40,
					"min": 0,
					"name": "id",
					"pattern": "^[a-z0-9_]+$",
					"presentable": false,
					"primaryKey": true,
					"required": true,
					"system": true,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_type_id",
					"max": 40,
					"min": 1,
					"name": "type_id",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_buyer_ref",
					"max": 100,
					"min": 1,
					"name": "buyer_ref",
					"presentable": true,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_buyer_contact",
					"max": 200,
					"min": 0,
					"name": "buyer_contact",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_payment_method",
					"max": 40,
					"min": 1,
					"name": "payment_method",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_payment_ref",
					"max": 200,
					"min": 0,
					"name": "payment_ref",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_ticket_id",
					"max": 40,
					"min": 0,
					"name": "ticket_id",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_amount",
					"max": 40,
					"min": 0,
					"name": "amount",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_outcome",
					"max": 20,
					"min": 1,
					"name": "outcome",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_fail_reason",
					"max": 300,
					"min": 0,
					"name": "fail_reason",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_created_at",
					"max": 40,
					"min": 0,
					"name": "created_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_pu_completed_at",
					"max": 40,
					"min": 0,
					"name": "completed_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				}
			]
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_purchases")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
