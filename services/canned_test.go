package services

import "testing"

func TestRenderTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		variables map[string]string
		want      string
	}{
		{
			"single variable",
			"Hi {{name}}, thanks for reaching out!",
			map[string]string{"name": "Dana"},
			"Hi Dana, thanks for reaching out!",
		},
		{
			"repeated variable",
			"{{name}}: your order, {{name}}, shipped.",
			map[string]string{"name": "Kim"},
			"Kim: your order, Kim, shipped.",
		},
		{
			"unknown placeholder stays visible",
			"Hi {{name}}, ref {{order_id}}.",
			map[string]string{"name": "Lee"},
			"Hi Lee, ref {{order_id}}.",
		},
		{
			"no variables",
			"Plain text.",
			nil,
			"Plain text.",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RenderTemplate(tt.content, tt.variables); got != tt.want {
				t.Errorf("RenderTemplate() = %q, want %q", got, tt.want)
			}
		})
	}
}
