package catalog

// Default is the catalog of the license store.
var Default = MustNew(
	Entity{Name: Currencies},
	Entity{Name: Users},
	Entity{Name: SystemSettings},
	Entity{Name: RemoteConfigs},
	Entity{
		Name:      Plans,
		DependsOn: []string{Currencies},
		Nested: []Nested{
			{Field: "prices", Table: "plan_prices", ParentKey: "plan_id"},
		},
	},
	Entity{Name: Licenses, DependsOn: []string{Plans, Users}},
	Entity{Name: Transactions, DependsOn: []string{Users, Licenses, Currencies}},
	Entity{Name: Notifications, DependsOn: []string{Users}},
	Entity{Name: AuditLogs, DependsOn: []string{Users}},
	Entity{
		Name:      SupportTickets,
		DependsOn: []string{Users},
		// Attachments may point at a reply, so replies go first.
		Nested: []Nested{
			{Field: "replies", Table: "ticket_replies", ParentKey: "ticket_id"},
			{Field: "attachments", Table: "ticket_attachments", ParentKey: "ticket_id"},
		},
	},
)
