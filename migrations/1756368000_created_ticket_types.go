package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_ticket_types",
			"name": "ticket_types",
			"type": "base",
			"system": false,
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null,
			"indexes": [
				"CREATE UNIQUE INDEX idx_ticket_types_name ON ticket_types (name)"
			],
			"fields": [
				{
					"autogeneratePattern": "[a-z0-9]{15}",
					"hidden": false,
					"id": "text_tt_id",
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
					"id": "text_tt_name",
					"max": 200,
					"min": 1,
					"name": "name",
					"presentable": true,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tt_description",
					"max": 500,
					"min": 0,
					"name": "description",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tt_profile",
					"max": 100,
					"min": 1,
					"name": "profile",
					"presentable": false,
					"required": true,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tt_time_limit",
					"max": 50,
					"min": 0,
					"name": "time_limit",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tt_data_limit",
					"max": 50,
					"min": 0,
					"name": "data_limit",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "text_tt_price",
					"max": 40,
					"min": 0,
					"name": "price",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "text"
				},
				{
					"hidden": false,
					"id": "bool_tt_is_active",
					"name": "is_active",
					"presentable": false,
					"required": false,
					"system": false,
					"type": "bool"
				}
			]
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_ticket_types")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
