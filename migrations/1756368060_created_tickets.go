package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_tickets",
			"name": "tickets",
			"type": "base",
			"system": false,
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null,
			"indexes": [
				"CREATE UNIQUE INDEX idx_tickets_username ON tickets (username)",
				"CREATE INDEX idx_tickets_alloc ON tickets (type_id, state, seq)",
				"CREATE INDEX idx_tickets_expiry ON tickets (state, reservation_expires_at)"
			],
			"fields": [
				{
					"autogeneratePattern": "[a-z0-9]{15}",
					"hidden": false,
					"id": "text_tk_id",
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
					"id": "text_tk_username",
					"max": 100,
					"min": 1,
					"name": "username",
					"presentable": true,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": true,
					"id": "text_tk_password",
					"max": 100,
					"min": 1,
					"name": "password",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tk_type_id",
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
					"id": "text_tk_state",
					"max": 20,
					"min": 1,
					"name": "state",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "number_tk_seq",
					"max": null,
					"min": null,
					"name": "seq",
					"onlyInt": true,
					"presentable": false,
					"required": false,
					"system": false,
					"type": "number"
				},
				{
					"hidden": false,
					"id": "text_tk_reserved_by",
					"max": 100,
					"min": 0,
					"name": "reserved_by",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tk_reserved_at",
					"max": 40,
					"min": 0,
					"name": "reserved_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tk_resv_expires",
					"max": 40,
					"min": 0,
					"name": "reservation_expires_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tk_sold_to",
					"max": 100,
					"min": 0,
					"name": "sold_to",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tk_sold_at",
					"max": 40,
					"min": 0,
					"name": "sold_at",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tk_comment",
					"max": 300,
					"min": 0,
					"name": "comment",
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
		collection, err := app.FindCollectionByNameOrId("pbc_tickets")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
