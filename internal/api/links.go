package api

// Links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var Links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/view>; rel="view"`,
		`</api/v1/archive/fields>; rel="archive"`,
		`</openapi.json>; rel="service-desc"`,
		`</docs>; rel="service-doc"`,
	},
	"/api/v1/info": {
		`</health>; rel="up"`,
		`</api/v1/view>; rel="view"`,
	},
	"/api/v1/view": {
		`</api/v1/selection/location>; rel="select-location"`,
		`</api/v1/selection/bbox>; rel="select-bbox"`,
		`</api/v1/map/stream>; rel="stream"`,
	},
	"/api/v1/selection/bbox": {
		`</api/v1/selection/bbox/mode>; rel="filter-mode"`,
		`</api/v1/selection/fields>; rel="create-field"`,
	},
	"/api/v1/archive/fields": {
		`</api/v1/archive/tables>; rel="tables"`,
		`</api/v1/archive/query>; rel="search"`,
	},
	"/api/v1/archive/tables": {
		`</api/v1/archive/query>; rel="search"`,
	},
}
