package challenge

import (
	"errors"
	"testing"
)

func TestCatalogHasEightDistinctFields(t *testing.T) {
	fields := Catalog()
	if len(fields) != 8 {
		t.Fatalf("expected 8 catalog fields, got %d", len(fields))
	}
	seen := map[string]bool{}
	for _, f := range fields {
		if f.Key == "" || f.Prompt == "" {
			t.Fatalf("catalog entry incomplete: %+v", f)
		}
		if seen[f.Key] {
			t.Fatalf("duplicate catalog key %q", f.Key)
		}
		seen[f.Key] = true
	}

	f, ok := Lookup("petName")
	if !ok || f.Prompt != "What is your pet's name?" {
		t.Fatalf("unexpected petName lookup: %+v ok=%v", f, ok)
	}
	if _, ok := Lookup("ssn"); ok {
		t.Fatal("expected unknown key lookup to fail")
	}
}

func TestCatalogReturnsCopy(t *testing.T) {
	fields := Catalog()
	fields[0].Prompt = "changed"
	if Catalog()[0].Prompt == "changed" {
		t.Fatal("Catalog must not expose its backing array")
	}
}

func TestSelectOnlyReturnsAnsweredFields(t *testing.T) {
	answers := map[string]string{
		"nickname":      "Ace",
		"petName":       "  ",
		"favoriteColor": "blue",
		"shoeSize":      "",
	}

	for idx := 0; idx < 2; idx++ {
		i := idx
		s := NewSelectorWithSource(func(n int) (int, error) {
			if n != 2 {
				t.Fatalf("expected 2 eligible fields, got %d", n)
			}
			return i, nil
		})
		got, err := s.Select(answers)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if got.Key != "nickname" && got.Key != "favoriteColor" {
			t.Fatalf("selected unanswered field %q", got.Key)
		}
	}
}

func TestSelectRandomStaysInEligibleSet(t *testing.T) {
	answers := map[string]string{"birthPlace": "Pune", "firstSchool": "St. Mary"}
	s := NewSelector()
	hits := map[string]int{}
	for i := 0; i < 200; i++ {
		got, err := s.Select(answers)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		hits[got.Key]++
	}
	if len(hits) != 2 || hits["birthPlace"] == 0 || hits["firstSchool"] == 0 {
		t.Fatalf("unexpected selection spread: %v", hits)
	}
}

func TestSelectNoneAvailable(t *testing.T) {
	s := NewSelector()
	if _, err := s.Select(nil); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable for nil answers, got %v", err)
	}
	if _, err := s.Select(map[string]string{"nickname": " ", "unknown": "x"}); !errors.Is(err, ErrNoneAvailable) {
		t.Fatalf("expected ErrNoneAvailable for blank answers, got %v", err)
	}
}

func TestSelectRejectsBadSource(t *testing.T) {
	s := NewSelectorWithSource(func(n int) (int, error) { return n, nil })
	if _, err := s.Select(map[string]string{"nickname": "Ace"}); err == nil {
		t.Fatal("expected out of range index to fail")
	}

	boom := errors.New("entropy")
	s = NewSelectorWithSource(func(int) (int, error) { return 0, boom })
	if _, err := s.Select(map[string]string{"nickname": "Ace"}); !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
}
