// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package trigger

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"
)

// IMAPConfig describes one mailbox to watch for unseen mail.
type IMAPConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port,omitempty" mapstructure:"port"`
	TLS      bool   `yaml:"tls,omitempty" mapstructure:"tls"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Mailbox  string `yaml:"mailbox,omitempty" mapstructure:"mailbox"`
}

// IMAP fires one event per unseen message with a UID above the cursor.
// Each poll is a fresh connection; mail servers drop idle sessions
// faster than the poll interval anyway.
type IMAP struct {
	name    string
	payload string
	cfg     IMAPConfig
	logger  *zap.Logger
}

// NewIMAP creates the mailbox source.
func NewIMAP(name string, cfg IMAPConfig, payload string, logger *zap.Logger) *IMAP {
	if cfg.Port == 0 {
		if cfg.TLS {
			cfg.Port = 993
		} else {
			cfg.Port = 143
		}
	}
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IMAP{name: name, payload: payload, cfg: cfg, logger: logger}
}

func (t *IMAP) Name() string { return t.name }

// Poll searches the mailbox for unseen messages with UID > cursor and
// returns one event per message. The cursor advances to the highest
// UID seen so a message never fires twice.
func (t *IMAP) Poll(ctx context.Context, cursor string) ([]Event, string, error) {
	lastUID, _ := strconv.ParseUint(cursor, 10, 32)

	client, err := t.dial()
	if err != nil {
		return nil, cursor, err
	}
	defer client.Close()

	if err := client.Login(t.cfg.Username, t.cfg.Password).Wait(); err != nil {
		return nil, cursor, fmt.Errorf("trigger %s: imap login: %w", t.name, err)
	}
	if _, err := client.Select(t.cfg.Mailbox, nil).Wait(); err != nil {
		return nil, cursor, fmt.Errorf("trigger %s: select %s: %w", t.name, t.cfg.Mailbox, err)
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	if lastUID > 0 {
		criteria.UID = []imap.UIDSet{
			{imap.UIDRange{Start: imap.UID(lastUID + 1), Stop: 0}},
		}
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, cursor, fmt.Errorf("trigger %s: search: %w", t.name, err)
	}
	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, cursor, nil
	}

	// First poll anchors the cursor without firing; a fresh deployment
	// must not replay the whole backlog of unread mail.
	maxUID := lastUID
	for _, uid := range uids {
		if uint64(uid) > maxUID {
			maxUID = uint64(uid)
		}
	}
	newCursor := strconv.FormatUint(maxUID, 10)
	if cursor == "" {
		return nil, newCursor, nil
	}

	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}
	events, err := t.fetchEvents(client, uidSet)
	if err != nil {
		return nil, cursor, err
	}
	return events, newCursor, nil
}

func (t *IMAP) dial() (*imapclient.Client, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	if t.cfg.TLS {
		client, err := imapclient.DialTLS(addr, &imapclient.Options{
			TLSConfig: &tls.Config{ServerName: t.cfg.Host},
		})
		if err != nil {
			return nil, fmt.Errorf("trigger %s: dial imap %s: %w", t.name, addr, err)
		}
		return client, nil
	}
	client, err := imapclient.DialInsecure(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("trigger %s: dial imap %s: %w", t.name, addr, err)
	}
	return client, nil
}

func (t *IMAP) fetchEvents(client *imapclient.Client, uidSet imap.UIDSet) ([]Event, error) {
	fetchCmd := client.Fetch(uidSet, &imap.FetchOptions{UID: true, Envelope: true})

	var events []Event
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		var uid imap.UID
		var from, subject string
		for {
			item := msg.Next()
			if item == nil {
				break
			}
			switch data := item.(type) {
			case imapclient.FetchItemDataUID:
				uid = data.UID
			case imapclient.FetchItemDataEnvelope:
				if data.Envelope != nil {
					subject = data.Envelope.Subject
					if len(data.Envelope.From) > 0 {
						from = data.Envelope.From[0].Addr()
					}
				}
			}
		}
		if uid == 0 {
			continue
		}

		events = append(events, Event{
			Payload: fmt.Sprintf("%s\n\nNew mail from %s: %s", t.payload, from, subject),
			Metadata: map[string]string{
				"uid":  strconv.FormatUint(uint64(uid), 10),
				"from": from,
			},
		})
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("trigger %s: fetch envelopes: %w", t.name, err)
	}
	return events, nil
}
