// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0

package sourceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchHourFiltersCorruption(t *testing.T) {
	body := `[[1.0, 2.0, 10.0], [200, 2.0, 10.0], "not-an-array", [1.0, 2.0, 200.0], [3.0, 4.0, 5.0, 6.0], [5.0, 6.0, 12.0]]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	c := New(srv.URL)
	obs, err := c.FetchHour(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("expected 2 valid observations, got %d: %+v", len(obs), obs)
	}
	if c.DroppedTotal() != 4 {
		t.Fatalf("expected 4 dropped, got %d", c.DroppedTotal())
	}
}

func TestFetchHourNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	obs, err := c.FetchHour(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error on 500")
	}
	if len(obs) != 0 {
		t.Fatalf("expected empty slice, got %d", len(obs))
	}
}

func TestFetchHourNonArrayBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"not":"an array"}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	obs, err := c.FetchHour(context.Background(), 0)
	if err == nil {
		t.Fatal("expected error on non-array body")
	}
	if len(obs) != 0 {
		t.Fatalf("expected empty slice, got %d", len(obs))
	}
}

func TestFetchHourURLShape(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.FetchHour(context.Background(), 7); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/07.json" {
		t.Fatalf("expected /07.json, got %s", gotPath)
	}
}
