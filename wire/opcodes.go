package wire

// Interface names as advertised by the registry
const (
	InterfaceDisplay         = "wl_display"
	InterfaceRegistry        = "wl_registry"
	InterfaceCallback        = "wl_callback"
	InterfaceCompositor      = "wl_compositor"
	InterfaceSurface         = "wl_surface"
	InterfaceRegion          = "wl_region"
	InterfaceShm             = "wl_shm"
	InterfaceShmPool         = "wl_shm_pool"
	InterfaceBuffer          = "wl_buffer"
	InterfaceOutput          = "wl_output"
	InterfaceSeat            = "wl_seat"
	InterfacePointer         = "wl_pointer"
	InterfaceKeyboard        = "wl_keyboard"
	InterfaceTouch           = "wl_touch"
	InterfaceWmBase          = "xdg_wm_base"
	InterfacePositioner      = "xdg_positioner"
	InterfaceXdgSurface      = "xdg_surface"
	InterfaceToplevel        = "xdg_toplevel"
	InterfacePopup           = "xdg_popup"
	InterfaceXwaylandShell   = "xwayland_shell_v1"
	InterfaceXwaylandSurface = "xwayland_surface_v1"
	InterfaceLayerShell      = "zwlr_layer_shell_v1"
	InterfaceLayerSurface    = "zwlr_layer_surface_v1"
)

// The display is always object 1
const DisplayID = uint32(1)

// Requests are what clients send, events what the compositor sends.
// Names follow the protocol XML with the interface prefix dropped

// wl_display
const (
	DisplaySync        = uint16(0)
	DisplayGetRegistry = uint16(1)

	DisplayEventError    = uint16(0)
	DisplayEventDeleteID = uint16(1)
)

// wl_display error codes
const (
	ErrorInvalidObject  = uint32(0)
	ErrorInvalidMethod  = uint32(1)
	ErrorNoMemory       = uint32(2)
	ErrorImplementation = uint32(3)
)

// wl_registry
const (
	RegistryBind = uint16(0)

	RegistryEventGlobal       = uint16(0)
	RegistryEventGlobalRemove = uint16(1)
)

// wl_callback
const CallbackEventDone = uint16(0)

// wl_compositor
const (
	CompositorCreateSurface = uint16(0)
	CompositorCreateRegion  = uint16(1)
)

// wl_surface
const (
	SurfaceDestroy            = uint16(0)
	SurfaceAttach             = uint16(1)
	SurfaceDamage             = uint16(2)
	SurfaceFrame              = uint16(3)
	SurfaceSetOpaqueRegion    = uint16(4)
	SurfaceSetInputRegion     = uint16(5)
	SurfaceCommit             = uint16(6)
	SurfaceSetBufferTransform = uint16(7)
	SurfaceSetBufferScale     = uint16(8)
	SurfaceDamageBuffer       = uint16(9)
	SurfaceOffset             = uint16(10)

	SurfaceEventEnter = uint16(0)
	SurfaceEventLeave = uint16(1)

	SurfaceErrorInvalidScale = uint32(0)
	SurfaceErrorInvalidSize  = uint32(2)
	SurfaceErrorDefunctRole  = uint32(4)
)

// wl_region
const (
	RegionDestroy  = uint16(0)
	RegionAdd      = uint16(1)
	RegionSubtract = uint16(2)
)

// wl_shm
const (
	ShmCreatePool = uint16(0)
	ShmRelease    = uint16(1)

	ShmEventFormat = uint16(0)

	ShmErrorInvalidFormat = uint32(0)
	ShmErrorInvalidStride = uint32(1)
	ShmErrorInvalidFd     = uint32(2)

	ShmFormatARGB8888 = uint32(0)
	ShmFormatXRGB8888 = uint32(1)
)

// wl_shm_pool
const (
	ShmPoolCreateBuffer = uint16(0)
	ShmPoolDestroy      = uint16(1)
	ShmPoolResize       = uint16(2)
)

// wl_buffer
const (
	BufferDestroy = uint16(0)

	BufferEventRelease = uint16(0)
)

// wl_output
const (
	OutputRelease = uint16(0)

	OutputEventGeometry    = uint16(0)
	OutputEventMode        = uint16(1)
	OutputEventDone        = uint16(2)
	OutputEventScale       = uint16(3)
	OutputEventName        = uint16(4)
	OutputEventDescription = uint16(5)

	OutputModeCurrent   = uint32(1)
	OutputModePreferred = uint32(2)
)

// wl_seat
const (
	SeatGetPointer  = uint16(0)
	SeatGetKeyboard = uint16(1)
	SeatGetTouch    = uint16(2)
	SeatRelease     = uint16(3)

	SeatEventCapabilities = uint16(0)
	SeatEventName         = uint16(1)

	SeatCapabilityPointer  = uint32(1)
	SeatCapabilityKeyboard = uint32(2)
	SeatCapabilityTouch    = uint32(4)
)

// wl_pointer
const (
	PointerSetCursor = uint16(0)
	PointerRelease   = uint16(1)

	PointerEventEnter  = uint16(0)
	PointerEventLeave  = uint16(1)
	PointerEventMotion = uint16(2)
	PointerEventButton = uint16(3)
	PointerEventAxis   = uint16(4)
	PointerEventFrame  = uint16(5)

	PointerErrorRole = uint32(0)
)

// wl_keyboard
const (
	KeyboardRelease = uint16(0)

	KeyboardEventKeymap     = uint16(0)
	KeyboardEventEnter      = uint16(1)
	KeyboardEventLeave      = uint16(2)
	KeyboardEventKey        = uint16(3)
	KeyboardEventModifiers  = uint16(4)
	KeyboardEventRepeatInfo = uint16(5)

	KeymapFormatXKBv1 = uint32(1)
)

// wl_touch
const (
	TouchRelease = uint16(0)

	TouchEventDown   = uint16(0)
	TouchEventUp     = uint16(1)
	TouchEventMotion = uint16(2)
	TouchEventFrame  = uint16(3)
	TouchEventCancel = uint16(4)
)

// xdg_wm_base
const (
	WmBaseDestroy          = uint16(0)
	WmBaseCreatePositioner = uint16(1)
	WmBaseGetXdgSurface    = uint16(2)
	WmBasePong             = uint16(3)

	WmBaseEventPing = uint16(0)

	WmBaseErrorRole                = uint32(0)
	WmBaseErrorDefunctSurfaces     = uint32(1)
	WmBaseErrorInvalidPopupParent  = uint32(3)
	WmBaseErrorInvalidSurfaceState = uint32(4)
	WmBaseErrorInvalidPositioner   = uint32(5)
)

// xdg_positioner
const (
	PositionerDestroy                 = uint16(0)
	PositionerSetSize                 = uint16(1)
	PositionerSetAnchorRect           = uint16(2)
	PositionerSetAnchor               = uint16(3)
	PositionerSetGravity              = uint16(4)
	PositionerSetConstraintAdjustment = uint16(5)
	PositionerSetOffset               = uint16(6)
	PositionerSetReactive             = uint16(7)
	PositionerSetParentSize           = uint16(8)
	PositionerSetParentConfigure      = uint16(9)

	PositionerErrorInvalidInput = uint32(0)
)

// xdg_surface
const (
	XdgSurfaceDestroy           = uint16(0)
	XdgSurfaceGetToplevel       = uint16(1)
	XdgSurfaceGetPopup          = uint16(2)
	XdgSurfaceSetWindowGeometry = uint16(3)
	XdgSurfaceAckConfigure      = uint16(4)

	XdgSurfaceEventConfigure = uint16(0)

	XdgSurfaceErrorNotConstructed     = uint32(1)
	XdgSurfaceErrorAlreadyConstructed = uint32(2)
	XdgSurfaceErrorUnconfiguredBuffer = uint32(3)
	XdgSurfaceErrorInvalidSerial      = uint32(4)
	XdgSurfaceErrorInvalidSize        = uint32(5)
	XdgSurfaceErrorDefunctRoleObject  = uint32(6)
)

// xdg_toplevel
const (
	ToplevelDestroy         = uint16(0)
	ToplevelSetParent       = uint16(1)
	ToplevelSetTitle        = uint16(2)
	ToplevelSetAppID        = uint16(3)
	ToplevelShowWindowMenu  = uint16(4)
	ToplevelMove            = uint16(5)
	ToplevelResize          = uint16(6)
	ToplevelSetMaxSize      = uint16(7)
	ToplevelSetMinSize      = uint16(8)
	ToplevelSetMaximized    = uint16(9)
	ToplevelUnsetMaximized  = uint16(10)
	ToplevelSetFullscreen   = uint16(11)
	ToplevelUnsetFullscreen = uint16(12)
	ToplevelSetMinimized    = uint16(13)

	ToplevelEventConfigure       = uint16(0)
	ToplevelEventClose           = uint16(1)
	ToplevelEventConfigureBounds = uint16(2)
	ToplevelEventWmCapabilities  = uint16(3)

	ToplevelStateMaximized  = uint32(1)
	ToplevelStateFullscreen = uint32(2)
	ToplevelStateResizing   = uint32(3)
	ToplevelStateActivated  = uint32(4)
)

// xdg_popup
const (
	PopupDestroy    = uint16(0)
	PopupGrab       = uint16(1)
	PopupReposition = uint16(2)

	PopupEventConfigure    = uint16(0)
	PopupEventPopupDone    = uint16(1)
	PopupEventRepositioned = uint16(2)
)

// xwayland_shell_v1 and xwayland_surface_v1
const (
	XwaylandShellDestroy    = uint16(0)
	XwaylandShellGetSurface = uint16(1)

	XwaylandSurfaceSetSerial = uint16(0)
	XwaylandSurfaceDestroy   = uint16(1)
)

// zwlr_layer_shell_v1
const (
	LayerShellGetLayerSurface = uint16(0)
	LayerShellDestroy         = uint16(1)

	LayerShellErrorRole               = uint32(0)
	LayerShellErrorInvalidLayer       = uint32(1)
	LayerShellErrorAlreadyConstructed = uint32(2)
)

// zwlr_layer_surface_v1
const (
	LayerSurfaceSetSize                  = uint16(0)
	LayerSurfaceSetAnchor                = uint16(1)
	LayerSurfaceSetExclusiveZone         = uint16(2)
	LayerSurfaceSetMargin                = uint16(3)
	LayerSurfaceSetKeyboardInteractivity = uint16(4)
	LayerSurfaceGetPopup                 = uint16(5)
	LayerSurfaceAckConfigure             = uint16(6)
	LayerSurfaceDestroy                  = uint16(7)
	LayerSurfaceSetLayer                 = uint16(8)

	LayerSurfaceEventConfigure = uint16(0)
	LayerSurfaceEventClosed    = uint16(1)

	LayerSurfaceErrorInvalidSurfaceState          = uint32(0)
	LayerSurfaceErrorInvalidSize                  = uint32(1)
	LayerSurfaceErrorInvalidAnchor                = uint32(2)
	LayerSurfaceErrorInvalidKeyboardInteractivity = uint32(3)
)
