package multi

import (
	"testing"

	"github.com/momentics/hioload-xfer/api"
	"github.com/momentics/hioload-xfer/fake"
	"github.com/momentics/hioload-xfer/internal/native"
	"github.com/stretchr/testify/suite"
)

type SocketRegistrySuite struct {
	suite.Suite
	loop   *fake.Loop
	driver *fake.Driver
	engine *Engine
	reg    *socketRegistry
}

func (s *SocketRegistrySuite) SetupTest() {
	s.loop = fake.NewLoop()
	s.driver = fake.NewDriver()
	e, err := New(Config{Loop: s.loop, Driver: s.driver, Name: "sockets"})
	s.Require().NoError(err)
	s.engine = e
	s.reg = e.sockets
}

func (s *SocketRegistrySuite) TestInterestMapping() {
	s.Equal(api.EventNone, interest(native.PollNone))
	s.Equal(api.EventRead, interest(native.PollIn))
	s.Equal(api.EventWrite, interest(native.PollOut))
	s.Equal(api.EventRead|api.EventWrite, interest(native.PollInOut))
	s.Equal(api.EventNone, interest(native.PollRemove))
}

func (s *SocketRegistrySuite) TestSelectMapping() {
	s.Equal(native.CSelect(0), selectMask(api.EventNone))
	s.Equal(native.CSelectIn, selectMask(api.EventRead))
	s.Equal(native.CSelectOut, selectMask(api.EventWrite))
	s.Equal(native.CSelectIn|native.CSelectOut|native.CSelectErr,
		selectMask(api.EventRead|api.EventWrite|api.EventError))
}

func (s *SocketRegistrySuite) TestOpenDrivesOnReadiness() {
	ctx, err := s.reg.open(s.engine, 12, api.EventRead)
	s.Require().NoError(err)
	s.Equal(1, s.reg.len())

	s.True(s.loop.Fire(12, api.EventRead|api.EventError))
	s.Require().Len(s.driver.Actions, 1)
	s.Equal(fake.Action{FD: 12, Select: native.CSelectIn | native.CSelectErr}, s.driver.Actions[0])

	s.Require().NoError(s.reg.release(ctx))
	s.NoError(s.reg.release(ctx), "release is idempotent")
	s.Equal(0, s.reg.len())
	s.Equal(0, s.loop.Watches())
}

func (s *SocketRegistrySuite) TestUpdateSkipsUnchangedMask() {
	ctx, err := s.reg.open(s.engine, 3, api.EventRead)
	s.Require().NoError(err)
	s.loop.ModifyErr = errModify
	s.NoError(ctx.update(api.EventRead))
	s.ErrorIs(ctx.update(api.EventWrite), errModify)
	s.Equal(api.EventRead, ctx.mask, "failed modify keeps the old mask")
}

func (s *SocketRegistrySuite) TestCloseAll() {
	for _, fd := range []int{4, 5, 6} {
		_, err := s.reg.open(s.engine, fd, api.EventWrite)
		s.Require().NoError(err)
	}
	s.reg.closeAll()
	s.Equal(0, s.reg.len())
	s.Equal(0, s.loop.Watches())
}

var errModify = api.Usage(api.ErrInvalidArgument, "modify refused")

func TestSocketRegistrySuite(t *testing.T) {
	suite.Run(t, new(SocketRegistrySuite))
}
