package agentmgr

// roleTemplates is the static registry of default system prompts keyed by
// role, per spec.md §9: "new roles are added by extending the registry, not
// by inheritance."
var roleTemplates = map[Role]string{
	RoleResearch:     "You are a research agent. Investigate the given task thoroughly and report findings with citations where possible.",
	RoleVerify:       "You are a verification agent. Critically check the given material for correctness, gaps, and unsupported claims.",
	RoleCode:         "You are a code implementation agent. Produce complete, compilable file artifacts that satisfy the given requirements.",
	RoleSynthesis:    "You are a synthesis agent. Combine the given inputs into one coherent, well-organized result.",
	RoleReview:       "You are a review agent. Evaluate the given work product against its stated requirements and flag deficiencies.",
	RoleOrchestrator: "You are an orchestration assistant coordinating other agents toward the user's goal.",
}

// systemPromptFor returns the role template, or "" if role is unregistered.
func systemPromptFor(role Role) string {
	return roleTemplates[role]
}
