package crud

// Builtins returns the configs for the entity types the admin core manages
// itself. locales applies to the translatable role fields; nil means English only.
func Builtins(locales ...string) []EntityConfig {
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	return []EntityConfig{
		{
			Type:     "users",
			Singular: "User",
			Plural:   "Users",
			Fields: []Field{
				{Name: "name", Label: "Name", Type: "text", Rule: "required,max=255"},
				{Name: "email", Label: "Email", Type: "email", Rule: "required,email,max=255"},
				{Name: "password", Label: "Password", Type: "password", Rule: "min=8,max=72", RequiredOnCreate: true},
				{Name: "is_active", Label: "Active", Type: "boolean"},
				{Name: "roles", Label: "Roles", Type: "select"},
				{Name: "avatar", Label: "Avatar", Type: "file"},
			},
			Columns: []Column{
				{Name: "id", Label: "ID", Sortable: true},
				{Name: "name", Label: "Name", Sortable: true},
				{Name: "email", Label: "Email", Sortable: true},
				{Name: "is_active", Label: "Active", Format: "boolean"},
				{Name: "created_at", Label: "Created", Sortable: true, Format: "datetime"},
			},
			Searchable:       []string{"name", "email"},
			With:             []string{"roles"},
			DefaultSort:      Sort{Field: "created_at", Direction: SortDesc},
			PermissionPrefix: "users",
			Attachable:       []string{"avatar"},
			Filters: []Filter{
				{Name: "is_active", Label: "Active", Type: "boolean"},
			},
			Actions: []RowAction{
				{Name: "impersonate", Label: "Impersonate", Permission: "users.impersonate", Confirm: "Sign in as this user?"},
			},
			Hooks: Hooks{BeforeSave: Lowercase("email")},
		},
		{
			Type:     "roles",
			Singular: "Role",
			Plural:   "Roles",
			Fields: []Field{
				{Name: "name", Label: "Name", Type: "text", Rule: "required,max=64"},
				{Name: "display_name", Label: "Display name", Type: "text", Rule: "required,max=120", Translatable: true},
				{Name: "description", Label: "Description", Type: "textarea", Rule: "omitempty,max=500", Translatable: true},
				{Name: "permissions", Label: "Permissions", Type: "select"},
			},
			Columns: []Column{
				{Name: "id", Label: "ID", Sortable: true},
				{Name: "name", Label: "Name", Sortable: true},
				{Name: "display_name", Label: "Display name"},
			},
			Searchable:       []string{"name"},
			With:             []string{"permissions"},
			DefaultSort:      Sort{Field: "name", Direction: SortAsc},
			PermissionPrefix: "roles",
			Locales:          locales,
		},
		{
			Type:     "permissions",
			Singular: "Permission",
			Plural:   "Permissions",
			Fields: []Field{
				{Name: "name", Label: "Name", Type: "text", Rule: "required,max=128"},
				{Name: "description", Label: "Description", Type: "textarea", Rule: "omitempty,max=500"},
			},
			Columns: []Column{
				{Name: "name", Label: "Name", Sortable: true},
				{Name: "description", Label: "Description"},
			},
			Searchable:       []string{"name", "description"},
			DefaultSort:      Sort{Field: "name", Direction: SortAsc},
			PermissionPrefix: "permissions",
		},
		{
			Type:     "attachments",
			Singular: "Attachment",
			Plural:   "Attachments",
			Fields: []Field{
				{Name: "file", Label: "File", Type: "file", RequiredOnCreate: true},
				{Name: "collection", Label: "Collection", Type: "text", Rule: "omitempty,max=64,alphanum"},
			},
			Columns: []Column{
				{Name: "id", Label: "ID", Sortable: true},
				{Name: "collection", Label: "Collection", Sortable: true},
				{Name: "created_at", Label: "Uploaded", Sortable: true, Format: "datetime"},
			},
			Searchable:       []string{"collection"},
			DefaultSort:      Sort{Field: "created_at", Direction: SortDesc},
			PermissionPrefix: "attachments",
			Attachable:       []string{"file"},
		},
	}
}
