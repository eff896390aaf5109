package capability

import (
	"encoding/json"

	"github.com/mohammad-safakhou/newsletter/models"
)

func reqFor(id, name, args string) models.ToolCallRequest {
	var raw json.RawMessage
	if args != "" {
		raw = json.RawMessage(args)
	}
	return models.ToolCallRequest{ID: id, Name: name, Arguments: raw}
}
