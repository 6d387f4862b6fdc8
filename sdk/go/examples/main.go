package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"duotronics/sdk/go/duotronics"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/test-key", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(duotronics.KeyTestResult{Success: true})
	})
	mux.HandleFunc("/api/config", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(duotronics.KeyTestResult{Success: true})
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []duotronics.Message `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		last := body.Messages[len(body.Messages)-1].Content
		_ = json.NewEncoder(w).Encode(duotronics.ChatResult{
			Content:        strings.ToUpper(last),
			LogicResponse:  last,
			ArtistResponse: strings.ToUpper(last),
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := duotronics.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	logic := duotronics.Hemisphere{Provider: "anthropic", APIKey: "sk-ant-demo", Model: "claude-sonnet-4-5"}
	artist := duotronics.Hemisphere{Provider: "openai", APIKey: "sk-demo", Model: "gpt-4o"}
	for _, h := range []duotronics.Hemisphere{logic, artist} {
		res, err := client.TestKey(ctx, duotronics.KeyTest{Provider: h.Provider, APIKey: h.APIKey, Model: h.Model})
		if err != nil {
			panic(err)
		}
		fmt.Printf("%s key ok=%v\n", h.Provider, res.Success)
	}

	if err := client.SaveConfig(ctx, duotronics.Settings{Logic: logic, Artist: artist}); err != nil {
		panic(err)
	}

	result, err := client.Chat(ctx, []duotronics.Message{{Role: "user", Content: "hello there"}})
	if err != nil {
		panic(err)
	}
	fmt.Printf("logic=%q artist=%q\n", result.LogicResponse, result.Content)
}
