package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// RPCMessage represents a complete message in the RPC protocol
type RPCMessage struct {
	Req *RPCData `json:"req,omitempty"`
}

// RPCData represents the common structure for both requests and responses
// Format: [request_id, method, params, ts]
type RPCData struct {
	RequestID uint64 `json:"id"`
	Method    string `json:"method"`
	Params    any    `json:"params"`
	Timestamp uint64 `json:"ts"`
}

// MarshalJSON implements the json.Marshaler interface for RPCData
func (m RPCData) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		m.RequestID,
		m.Method,
		m.Params,
		m.Timestamp,
	})
}

// Client handles websocket connection and RPC messaging
type Client struct {
	conn          *websocket.Conn
	apiSecret     string // Operator secret used for auth_request
	jwt           string // JWT token received after authentication (or passed in to resume)
	noAuth        bool   // Flag to indicate if authentication should be skipped
	serverURL     string // Server URL for reconnection
	nextRequestID uint64 // Counter for request IDs
}

// NewClient creates a new websocket client
func NewClient(serverURL, apiSecret, jwt string, noAuth bool) (*Client, error) {
	if apiSecret == "" && jwt == "" && !noAuth {
		return nil, fmt.Errorf("an API secret or JWT is required unless noAuth is enabled")
	}

	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	return &Client{
		conn:          conn,
		apiSecret:     apiSecret,
		jwt:           jwt,
		noAuth:        noAuth,
		serverURL:     serverURL,
		nextRequestID: 1,
	}, nil
}

// SendMessage sends an RPC message to the server
func (c *Client) SendMessage(rpcMsg RPCMessage) error {
	data, err := json.Marshal(rpcMsg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// Authenticate performs the authentication flow with the server.
// With a JWT it resumes the session via auth_verify, otherwise it trades the
// operator secret for a fresh session via auth_request.
func (c *Client) Authenticate() error {
	if c.noAuth {
		fmt.Println("Authentication skipped (noAuth mode)")
		return nil
	}

	method := "auth_request"
	params := map[string]any{"api_key": c.apiSecret}
	if c.jwt != "" {
		method = "auth_verify"
		params = map[string]any{"jwt": c.jwt}
	}

	fmt.Printf("Starting authentication (%s)...\n", method)

	authReq := RPCMessage{
		Req: &RPCData{
			RequestID: c.nextRequestID,
			Method:    method,
			Params:    params,
			Timestamp: uint64(time.Now().UnixMilli()),
		},
	}
	c.nextRequestID++

	if err := c.SendMessage(authReq); err != nil {
		return fmt.Errorf("failed to send auth request: %w", err)
	}

	fmt.Println("Waiting for session grant...")
	authDeadline := time.Now().Add(5 * time.Second)

	for time.Now().Before(authDeadline) {
		c.conn.SetReadDeadline(authDeadline)
		_, authMsg, err := c.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return fmt.Errorf("timed out waiting for auth response")
			}
			return fmt.Errorf("failed to read auth response: %w", err)
		}

		var authResp map[string]any
		if err := json.Unmarshal(authMsg, &authResp); err != nil {
			return fmt.Errorf("failed to parse auth response: %w", err)
		}

		resArray, ok := authResp["res"].([]any)
		if !ok || len(resArray) < 3 {
			continue
		}

		resMethod, _ := resArray[1].(string)
		switch resMethod {
		case "chart", "dashboard":
			// Server-initiated pushes arrive interleaved with the auth reply
			fmt.Printf("Skipping non-auth message: %s\n", resMethod)
			continue
		case "error":
			if errObj, ok := resArray[2].(map[string]any); ok {
				return fmt.Errorf("authentication failed: %v", errObj["error"])
			}
			return fmt.Errorf("authentication failed")
		case method:
			grant, ok := resArray[2].(map[string]any)
			if !ok {
				return fmt.Errorf("invalid auth response parameters")
			}
			if success, ok := grant["success"].(bool); ok && !success {
				return fmt.Errorf("authentication failed")
			}
			if token, ok := grant["jwt_token"].(string); ok && token != "" {
				c.jwt = token
				fmt.Println("JWT token received!")
			}
			if sessionID, ok := grant["session_id"].(string); ok {
				fmt.Printf("Session: %s (expires %v)\n", sessionID, grant["expires_at"])
			}

			c.conn.SetReadDeadline(time.Time{})
			fmt.Println("Authentication successful!")
			return nil
		default:
			fmt.Printf("Skipping non-auth message: %s\n", resMethod)
		}
	}

	c.conn.SetReadDeadline(time.Time{})
	return fmt.Errorf("no auth response received")
}

// Close closes the websocket connection
func (c *Client) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func main() {
	var (
		methodFlag = flag.String("method", "", "RPC method name")
		idFlag     = flag.Uint64("id", 1, "Request ID")
		paramsFlag = flag.String("params", "{}", "JSON object of parameters")
		sendFlag   = flag.Bool("send", false, "Send the message to the server")
		serverFlag = flag.String("server", "ws://localhost:8000/ws", "WebSocket server URL (or set SERVER env)")
		secretFlag = flag.String("secret", "", "Operator API secret (or set LEDGERD_API_SECRET env)")
		jwtFlag    = flag.String("jwt", "", "Resume an existing session with this JWT")
		noAuthFlag = flag.Bool("noauth", false, "Skip authentication flow")
	)

	flag.Parse()

	if serverEnv := os.Getenv("SERVER"); serverEnv != "" {
		*serverFlag = serverEnv
	}
	if *secretFlag == "" {
		*secretFlag = os.Getenv("LEDGERD_API_SECRET")
	}

	if *methodFlag == "" {
		fmt.Println("Error: method is required")
		flag.Usage()
		os.Exit(1)
	}

	// Parse params
	var params any
	if err := json.Unmarshal([]byte(*paramsFlag), &params); err != nil {
		log.Fatalf("Error parsing params JSON: %v", err)
	}

	rpcMessage := RPCMessage{
		Req: &RPCData{
			RequestID: *idFlag,
			Method:    *methodFlag,
			Params:    params,
			Timestamp: uint64(time.Now().UnixMilli()),
		},
	}

	printMessageInfo(rpcMessage, *sendFlag, *noAuthFlag, *jwtFlag != "", *serverFlag)

	if *sendFlag {
		client, err := NewClient(*serverFlag, *secretFlag, *jwtFlag, *noAuthFlag)
		if err != nil {
			log.Fatalf("Error creating client: %v", err)
		}
		defer client.Close()

		if err := client.Authenticate(); err != nil {
			log.Fatalf("Authentication failed: %v", err)
		}

		if err := client.SendMessage(rpcMessage); err != nil {
			log.Fatalf("Error sending message: %v", err)
		}

		readResponses(client)
	}
}

// printMessageInfo displays information about the message to be sent
func printMessageInfo(rpcMessage RPCMessage, sendFlag, noAuthFlag, hasJWT bool, serverFlag string) {
	fmt.Println("\nPayload:")
	output, err := json.MarshalIndent(rpcMessage, "", "  ")
	if err != nil {
		log.Fatalf("Error marshaling final message: %v", err)
	}
	fmt.Println(string(output))

	if !sendFlag {
		fmt.Println("\nDescription:")

		if noAuthFlag {
			fmt.Println("\nAuthentication: None (--noauth flag)")
		} else if hasJWT {
			fmt.Println("\nAuthentication: Resuming session via auth_verify")
		} else {
			fmt.Println("\nAuthentication: Operator secret via auth_request")
		}

		fmt.Printf("\nTarget server: %s\n", serverFlag)
		fmt.Println("\nTo execute this plan, run with the --send flag")
		fmt.Println()
	}
}

// readResponses reads and displays responses from the server
func readResponses(client *Client) {
	fmt.Println("\nServer responses:")
	responseCount := 0

	for {
		client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))

		_, respMsg, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) ||
				websocket.IsUnexpectedCloseError(err) ||
				err.Error() == "websocket: close 1000 (normal)" {
				fmt.Println("Connection closed by server.")
				break
			} else if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				if responseCount > 0 {
					fmt.Println("No more messages received.")
				} else {
					fmt.Println("No response received within timeout period.")
				}
				break
			}
			log.Fatalf("Error reading response: %v", err)
		}

		var respObj map[string]any
		if err := json.Unmarshal(respMsg, &respObj); err != nil {
			log.Fatalf("Error parsing response: %v", err)
		}
		respOut, err := json.MarshalIndent(respObj, "", "  ")
		if err != nil {
			log.Fatalf("Error marshaling response: %v", err)
		}

		fmt.Printf("\nResponse #%d:\n", responseCount+1)
		fmt.Println(string(respOut))
		responseCount++
	}
}
