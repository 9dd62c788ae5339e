package coord

import "strconv"

// registerTools wires every coordination tool onto the MCP server.
func (s *Server) registerTools() {
	s.registerAgentTools()
	s.registerTodoTools()
	s.registerLockTools()
	s.registerInterfaceTools()
	s.registerMessageTools()
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func boolArg(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

// idArg reads an identifier that clients may send as a string or a number.
func idArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	if v, ok := args[key].(float64); ok {
		return strconv.Itoa(int(v))
	}
	return ""
}
