package httpapi

import "net/http"

type object = map[string]any

// docsHandler serves the OpenAPI 3.0.1 description of the public endpoints.
func docsHandler(publicBaseURL string) http.HandlerFunc {
	doc := apiDocument(publicBaseURL)
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, doc)
	}
}

func apiDocument(publicBaseURL string) object {
	failure := object{
		"type": "object",
		"properties": object{
			"success":   object{"type": "boolean", "example": false},
			"message":   object{"type": "string"},
			"requestId": object{"type": "string"},
		},
	}
	jsonContent := func(schema object) object {
		return object{"application/json": object{"schema": schema}}
	}

	return object{
		"openapi": "3.0.1",
		"info": object{
			"title":       "Onay helper API",
			"version":     "1.0.0",
			"description": "Starts QR ticketing on Onay terminals. Backend credentials stay on the server.",
		},
		"servers": []object{{"url": publicBaseURL}},
		"paths": object{
			"/api/onay/qr-start": object{
				"post": object{
					"summary": "Look up route, plate and fare by terminal code",
					"parameters": []object{{
						"name":     "Idempotency-Key",
						"in":       "header",
						"required": false,
						"schema":   object{"type": "string"},
					}},
					"requestBody": object{
						"required": true,
						"content": jsonContent(object{
							"type": "object",
							"properties": object{
								"terminal": object{"type": "string", "example": "1234"},
							},
							"required": []string{"terminal"},
						}),
					},
					"responses": object{
						"200": object{
							"description": "Success",
							"content": jsonContent(object{
								"type": "object",
								"properties": object{
									"success": object{"type": "boolean"},
									"data": object{
										"type": "object",
										"properties": object{
											"route":    object{"type": "string", "nullable": true},
											"plate":    object{"type": "string", "nullable": true},
											"cost":     object{"type": "integer", "nullable": true, "example": 12000},
											"terminal": object{"type": "string"},
											"pan":      object{"type": "string", "nullable": true},
										},
									},
								},
							}),
						},
						"400": object{"description": "terminal is missing", "content": jsonContent(failure)},
						"409": object{"description": "Idempotency-Key reused with a different terminal", "content": jsonContent(failure)},
						"500": object{"description": "Onay failure", "content": jsonContent(failure)},
					},
				},
			},
			"/api/onay/sign-in": object{
				"post": object{
					"summary": "Force a new token/shortToken pair",
					"responses": object{
						"200": object{
							"description": "Success",
							"content": jsonContent(object{
								"type": "object",
								"properties": object{
									"success": object{"type": "boolean"},
									"data": object{
										"type": "object",
										"properties": object{
											"token":      object{"type": "string"},
											"shortToken": object{"type": "string"},
											"deviceId":   object{"type": "string"},
										},
									},
								},
							}),
						},
						"500": object{"description": "Onay failure", "content": jsonContent(failure)},
					},
				},
			},
			"/api/onay/session": object{
				"get": object{
					"summary": "Report the cached session",
					"responses": object{
						"200": object{
							"description": "Success",
							"content": jsonContent(object{
								"type": "object",
								"properties": object{
									"success": object{"type": "boolean"},
									"data": object{
										"type": "object",
										"properties": object{
											"signedIn":  object{"type": "boolean"},
											"deviceId":  object{"type": "string", "nullable": true},
											"expiresAt": object{"type": "string", "format": "date-time", "nullable": true},
										},
									},
								},
							}),
						},
					},
				},
			},
		},
	}
}
