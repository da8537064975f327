// Package desk holds the service-desk collaborator surface: the tool
// table the gateway exposes to the voice agent and a small REST client
// for the gateway itself.
package desk

// Tool describes one gateway-executed function the voice agent can
// invoke during a conversation.
type Tool struct {
	Name          string
	Label         string
	MutatesTicket bool
}

var tools = []Tool{
	{Name: "create_ticket", Label: "Create ticket", MutatesTicket: true},
	{Name: "search_knowledge_base", Label: "Search knowledge base"},
	{Name: "get_ticket", Label: "Look up ticket"},
	{Name: "list_tickets", Label: "List tickets"},
	{Name: "update_ticket_status", Label: "Update ticket status", MutatesTicket: true},
}

// Lookup returns the tool descriptor for a function name.
func Lookup(name string) (Tool, bool) {
	for _, t := range tools {
		if t.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

// MutatesTickets reports whether a completed tool call changed ticket
// data, in which case dependent UIs should be nudged to refresh.
func MutatesTickets(name string) bool {
	t, ok := Lookup(name)
	return ok && t.MutatesTicket
}

// Ticket priority, category and status enums as the gateway stores
// them.
var (
	Priorities = []string{"low", "medium", "high", "critical"}
	Categories = []string{"network", "software", "hardware", "access", "email", "general"}
	Statuses   = []string{"open", "in_progress", "resolved", "closed"}
)
