package models

// Collection describes one entity collection: its name inside snapshots,
// the local table holding it and the field that identifies its records.
type Collection struct {
	Name     string
	Table    string
	KeyField string
}

var (
	Clients     = Collection{Name: "clients", Table: "clients", KeyField: "id"}
	Services    = Collection{Name: "services", Table: "services", KeyField: "id"}
	TimeEntries = Collection{Name: "timeEntries", Table: "time_entries", KeyField: "id"}
	Invoices    = Collection{Name: "invoices", Table: "invoices", KeyField: "id"}
	Settings    = Collection{Name: "settings", Table: "settings", KeyField: "key"}
)

// Collections returns every known collection in snapshot order.
func Collections() []Collection {
	return []Collection{Clients, Services, TimeEntries, Invoices, Settings}
}

// CollectionByName looks a collection up by its snapshot name.
func CollectionByName(name string) (Collection, bool) {
	for _, c := range Collections() {
		if c.Name == name {
			return c, true
		}
	}
	return Collection{}, false
}
