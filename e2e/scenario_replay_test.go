package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pairwire/domain"
	"pairwire/transport"
)

type testReplaySuite struct {
	BaseBrokerSuite
}

func TestReplaySuite(t *testing.T) {
	suite.Run(t, &testReplaySuite{})
}

// TestDisconnectDuringSend severs every live socket mid-conversation and
// checks that a message sent during the outage arrives exactly once after
// the automatic reconnect and replay.
func (s *testReplaySuite) TestDisconnectDuringSend() {
	coordToken := s.RegisterUser("maya", "coordinator")
	contribToken := s.RegisterUser("noah", "contributor")

	coordinator := s.ConnectClient(coordToken)
	contributor := s.ConnectClient(contribToken)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	channel, err := coordinator.ResolveChannel(ctx, contributor.Self().ID)
	s.Require().NoError(err)
	_, err = contributor.ResolveChannel(ctx, coordinator.Self().ID)
	s.Require().NoError(err)
	channelID := channel.ID

	s.Run("Step 1: a clean send confirms normally", func() {
		coordinator.Send(channelID, "before the outage")

		s.Require().Eventually(func() bool {
			return len(contributor.Messages(channelID)) == 1
		}, 5*time.Second, 20*time.Millisecond, "baseline message never arrived")
		s.Require().Empty(coordinator.Pending())
	})

	s.Run("Step 2: a send across a severed connection arrives exactly once", func() {
		// Every live socket dies; both clients are mid-session.
		s.manager.CloseAll()

		coordinator.Send(channelID, "through the outage")

		s.Require().Eventually(func() bool {
			return coordinator.Connected() && contributor.Connected()
		}, 10*time.Second, 20*time.Millisecond, "clients never reconnected")

		s.Require().Eventually(func() bool {
			return len(contributor.Messages(channelID)) == 2 &&
				len(coordinator.Messages(channelID)) == 2
		}, 10*time.Second, 20*time.Millisecond, "replayed message never arrived")

		s.Require().Empty(coordinator.Pending(), "replayed message still in the outbox")

		// Give any duplicate time to surface before counting again
		time.Sleep(500 * time.Millisecond)
		s.Require().Len(contributor.Messages(channelID), 2)
		s.Require().Len(coordinator.Messages(channelID), 2)

		msgs := contributor.Messages(channelID)
		s.Require().Equal("before the outage", msgs[0].Content)
		s.Require().Equal("through the outage", msgs[1].Content)
	})

	s.Run("Step 3: replaying the same temp id over REST appends once", func() {
		first := s.postMessage(coordToken, channelID, "belt and braces", "replay-1")
		second := s.postMessage(coordToken, channelID, "belt and braces", "replay-1")
		s.Require().Equal(first.ID, second.ID)

		s.Require().Eventually(func() bool {
			return len(contributor.Messages(channelID)) == 3
		}, 5*time.Second, 20*time.Millisecond)

		time.Sleep(500 * time.Millisecond)
		s.Require().Len(contributor.Messages(channelID), 3)
	})
}

func (s *testReplaySuite) postMessage(token string, channelID domain.ChannelID,
	content, tempID string) transport.MessageDTO {
	raw, err := json.Marshal(map[string]string{"content": content, "temp_id": tempID})
	s.Require().NoError(err)

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/api/channels/%s/messages", s.server.URL, channelID),
		bytes.NewReader(raw))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer func() { _ = resp.Body.Close() }()
	s.Require().Equal(http.StatusCreated, resp.StatusCode)

	var dto transport.MessageDTO
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&dto))
	return dto
}
