package sms

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CygnusNetworks/gonotifyd/internal/notifyerr"
	"github.com/CygnusNetworks/gonotifyd/internal/transport"
)

func init() {
	transport.Register("sipgate", openSipgate)
}

const (
	sipgateBasicURL = "https://%s:%s@samurai.sipgate.net/RPC2"
	sipgateTeamURL  = "https://%s:%s@api.sipgate.net/RPC2"
	sipgateClient   = "gonotifyd"
)

// sipgateSender sends SMS via sipgate's XML-RPC API. There is no XML-RPC
// client in the dependency pack, so the (small, fixed) request and
// response shapes are encoded/decoded directly with encoding/xml.
type sipgateSender struct {
	url    string
	client *http.Client
}

func openSipgate(config map[string]string) (transport.Transport, error) {
	username, uok := config["username"]
	password, pok := config["password"]
	if !uok || !pok {
		return nil, fmt.Errorf("sipgate: username and password required")
	}

	api := strings.ToLower(strings.TrimSpace(config["api"]))
	if api == "" {
		api = "basic"
	}
	var base string
	switch api {
	case "basic", "plus":
		base = sipgateBasicURL
	case "team":
		base = sipgateTeamURL
	default:
		return nil, fmt.Errorf("sipgate: invalid value for api")
	}

	sender := &sipgateSender{
		url:    fmt.Sprintf(base, url.QueryEscape(username), url.QueryEscape(password)),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	return NewBase(config, sender)
}

type xmlrpcCall struct {
	XMLName    xml.Name      `xml:"methodCall"`
	MethodName string        `xml:"methodName"`
	Params     []xmlrpcParam `xml:"params>param"`
}

type xmlrpcParam struct {
	Value xmlrpcStruct `xml:"value>struct"`
}

type xmlrpcMember struct {
	Name  string `xml:"name"`
	Value string `xml:"value>string"`
}

type xmlrpcStruct struct {
	Members []xmlrpcMember `xml:"member"`
}

type xmlrpcResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []struct {
		Value struct {
			Struct struct {
				Members []struct {
					Name  string `xml:"name"`
					Value struct {
						Int    *int    `xml:"int"`
						String *string `xml:"string"`
					} `xml:"value"`
				} `xml:"member"`
			} `xml:"struct"`
		} `xml:"value"`
	} `xml:"params>param"`
}

func (s *sipgateSender) call(method string, args map[string]string) (statusCode int, err error) {
	members := make([]xmlrpcMember, 0, len(args))
	for k, v := range args {
		members = append(members, xmlrpcMember{Name: k, Value: v})
	}

	call := xmlrpcCall{
		MethodName: method,
		Params:     []xmlrpcParam{{Value: xmlrpcStruct{Members: members}}},
	}

	var body bytes.Buffer
	body.WriteString(xml.Header)
	if err := xml.NewEncoder(&body).Encode(call); err != nil {
		return 0, fmt.Errorf("sipgate: failed to encode request: %v", err)
	}

	resp, err := s.client.Post(s.url, "text/xml", &body)
	if err != nil {
		return 0, fmt.Errorf("sipgate: request failed: %v", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("sipgate: failed to read response: %v", err)
	}

	var parsed xmlrpcResponse
	if err := xml.Unmarshal(data, &parsed); err != nil {
		return 0, fmt.Errorf("sipgate: failed to parse response: %v", err)
	}
	if len(parsed.Params) == 0 {
		return 0, fmt.Errorf("sipgate: empty response")
	}
	for _, m := range parsed.Params[0].Value.Struct.Members {
		if m.Name == "StatusCode" && m.Value.Int != nil {
			return *m.Value.Int, nil
		}
	}
	return 0, fmt.Errorf("sipgate: response missing StatusCode")
}

func (s *sipgateSender) clientIdentify() error {
	status, err := s.call("samurai.ClientIdentify", map[string]string{"ClientName": sipgateClient})
	if err != nil {
		return notifyerr.Temp(err)
	}
	if status != 200 {
		return notifyerr.Temp(fmt.Errorf("sipgate identify failed with status %d", status))
	}
	return nil
}

// SendSMS sends message to phone, which must begin with a leading plus
// sign (the country-code form); any other number fails permanently.
func (s *sipgateSender) SendSMS(phone, message string) error {
	if !strings.HasPrefix(phone, "+") {
		return notifyerr.Perm(fmt.Errorf("sipgate: phone number must start with a plus sign"))
	}

	if err := s.clientIdentify(); err != nil {
		return err
	}

	status, err := s.call("samurai.SessionInitiate", map[string]string{
		"RemoteUri": fmt.Sprintf("sip:%s@sipgate.net", phone[1:]),
		"TOS":       "text",
		"Content":   message,
	})
	if err != nil {
		return notifyerr.Temp(err)
	}
	if status != 200 {
		return notifyerr.Temp(fmt.Errorf("sending SMS via sipgate failed with status %d", status))
	}
	return nil
}
