package pipe

// FIONREAD, _IOR('f', 127, int); x/sys/unix does not export it for darwin.
const ioctlReadable = 0x4004667f
