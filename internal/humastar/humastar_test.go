package humastar

import (
	"strings"
	"testing"
)

func TestParseSignals(t *testing.T) {
	s, err := ParseSignals([]byte(`{"lon": 11.19, "lat": "60.74", "mode": "inclusive", "bad": "x", "on": true}`))
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := s.Float("lon"); !ok || v != 11.19 {
		t.Errorf("lon = %v %v", v, ok)
	}
	if v, ok := s.Float("lat"); !ok || v != 60.74 {
		t.Errorf("lat = %v %v", v, ok)
	}
	if _, ok := s.Float("bad"); ok {
		t.Error("non-numeric string parsed")
	}
	if _, ok := s.Float("missing"); ok {
		t.Error("missing key parsed")
	}
	if s.String("mode") != "inclusive" || !s.Bool("on") || !s.Has("bad") {
		t.Errorf("signals = %v", s)
	}

	empty, err := ParseSignals(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("empty body = %v, %v", empty, err)
	}
	in := SignalsInput{RawBody: []byte("{")}
	if _, err := in.MustParse(); err == nil {
		t.Error("malformed body accepted")
	}
}

func TestPaginationLinks(t *testing.T) {
	links := PageBody[int]{Total: 25, Offset: 10, Limit: 10}.PaginationLinks("/api/v1/archive/fields")
	want := []string{
		`</api/v1/archive/fields?offset=0&limit=10>; rel="first"`,
		`</api/v1/archive/fields?offset=0&limit=10>; rel="prev"`,
		`</api/v1/archive/fields?offset=20&limit=10>; rel="next"`,
		`</api/v1/archive/fields?offset=20&limit=10>; rel="last"`,
	}
	if strings.Join(links, "\n") != strings.Join(want, "\n") {
		t.Errorf("links =\n%s", strings.Join(links, "\n"))
	}

	if got := (PageBody[int]{Total: 0, Limit: 10}).PaginationLinks("/x"); len(got) != 2 {
		t.Errorf("empty page links = %v", got)
	}
	if got := (PageBody[int]{}).PaginationLinks("/x"); got != nil {
		t.Errorf("zero limit links = %v", got)
	}
}

func TestActionLinkHeader(t *testing.T) {
	a := Action{Rel: "show-maps", Href: "/api/v1/overlay/maps", Method: "POST", Title: "Show map overlay"}
	want := `</api/v1/overlay/maps>; rel="show-maps"; method="POST"; title="Show map overlay"`
	if got := a.LinkHeader(); got != want {
		t.Errorf("got %s", got)
	}
}
