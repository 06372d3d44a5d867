package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

func main() {
	url := "http://localhost:8080/submit"

	payload := map[string]interface{}{
		"language":    "python",
		"source_code": "print(sum(map(int, input().split())))",
		"test_cases": []map[string]string{
			{"input": "1 2\n", "expected_output": "3\n"},
			{"input": "10 20\n", "expected_output": "30\n"},
			{"input": "-5 5\n", "expected_output": "0\n"},
		},
		"time_limit_ms":   2000,
		"memory_limit_mb": 128,
	}

	jsonData, _ := json.Marshal(payload)

	totalRequests := 100
	ratePerSecond := 5

	ticker := time.NewTicker(time.Second / time.Duration(ratePerSecond))
	defer ticker.Stop()

	var wg sync.WaitGroup
	client := &http.Client{}

	for i := 1; i <= totalRequests; i++ {
		<-ticker.C // enforce rate limit

		wg.Add(1)

		go func(n int) {
			defer wg.Done()

			req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
			if err != nil {
				fmt.Printf("Request %d: error creating request: %v\n", n, err)
				return
			}

			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				fmt.Printf("Request %d: error sending request: %v\n", n, err)
				return
			}
			defer resp.Body.Close()

			bodyBytes, err := io.ReadAll(resp.Body)
			if err != nil {
				fmt.Printf("Request %d: error reading response: %v\n", n, err)
				return
			}

			fmt.Printf("Request %d -> Status: %d, content: %s\n", n, resp.StatusCode, string(bodyBytes))
		}(i)
	}

	wg.Wait()
	fmt.Println("All requests completed")
}
